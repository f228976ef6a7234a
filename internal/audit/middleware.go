package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxAuditBody = 64 << 10
	maskedValue  = "******"
)

var sensitiveFields = []string{"password", "token", "secret", "key"}

// ActorFunc returns the authenticated actor of a request, or "" if none.
type ActorFunc func(r *http.Request) string

// Middleware records one entry per mutating API request once the handler
// has responded. Requests without an actor are not recorded.
func Middleware(rec *Recorder, actor ActorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			var reqBody []byte
			if isJSON(r.Header.Get("Content-Type")) && r.Body != nil {
				reqBody, _ = io.ReadAll(io.LimitReader(r.Body, maxAuditBody))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), r.Body))
			}

			var respBody bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&limitedWriter{buf: &respBody, max: maxAuditBody})

			next.ServeHTTP(ww, r)

			who := actor(r)
			if who == "" {
				return
			}

			resourceType, action, resourceID := MapPath(r.URL.Path, r.Method)
			details := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": ww.Status(),
			}
			if r.Method != http.MethodDelete {
				details["request"] = requestDetails(r.Header.Get("Content-Type"), reqBody)
			}
			if ww.Status() >= 200 && ww.Status() < 300 {
				addResult(details, respBody.Bytes())
			}

			rec.Record(r.Context(), Entry{
				Action:       resourceType + "_" + action,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Actor:        who,
				IPAddress:    clientIP(r),
				Details:      details,
			})
		})
	}
}

// MapPath derives the resource type, action and resource id from an API path.
//
//	POST   /api/hooks               -> hook, create, ""
//	POST   /api/hooks/3/deploy      -> hook, deploy, "3"
//	PUT    /api/provider/config     -> provider, config, ""
//	DELETE /api/hooks/3             -> hook, delete, "3"
func MapPath(path, method string) (resourceType, action, resourceID string) {
	resourceType = "unknown"
	action = strings.ToLower(method)

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "api" {
		resourceType = strings.TrimSuffix(parts[1], "s")
		if len(parts) >= 3 {
			if isDigits(parts[2]) {
				resourceID = parts[2]
				if len(parts) >= 4 {
					action = parts[3]
				}
			} else {
				action = parts[2]
			}
		}
	}

	if action == strings.ToLower(method) {
		switch method {
		case http.MethodPost:
			action = "create"
		case http.MethodPut, http.MethodPatch:
			action = "update"
		case http.MethodDelete:
			action = "delete"
		}
	}
	return resourceType, action, resourceID
}

// Mask replaces the value of every field whose name looks sensitive.
func Mask(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if isSensitive(k) {
			out[k] = maskedValue
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func requestDetails(contentType string, body []byte) any {
	if !isJSON(contentType) {
		return map[string]any{"raw": "non-JSON body"}
	}
	if len(body) == 0 {
		return map[string]any{}
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]any{"raw": "non-JSON body"}
	}
	if m, ok := parsed.(map[string]any); ok {
		return Mask(m)
	}
	return parsed
}

func addResult(details map[string]any, body []byte) {
	var resp map[string]any
	if json.Unmarshal(body, &resp) != nil {
		return
	}
	for _, k := range []string{"id", "name", "batch_id"} {
		if v, ok := resp[k]; ok {
			details["result_"+k] = v
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limitedWriter keeps the first max bytes and silently drops the rest.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
