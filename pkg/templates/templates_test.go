package templates

import (
	"reflect"
	"testing"
)

func TestExpand(t *testing.T) {
	data := Data{
		HookPath: "/var/opt/gitlab/hooks/pre-receive.d/check",
		HookName: "check",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"single placeholder", "chmod 0755 {{HOOK_PATH}}", "chmod 0755 /var/opt/gitlab/hooks/pre-receive.d/check"},
		{"multiple placeholders", "{{HOOK_NAME}}:{{HOOK_NAME}}", "check:check"},
		{"unknown placeholder kept", "echo {{OTHER}}", "echo {{OTHER}}"},
		{"no placeholders", "true", "true"},
		{"lowercase not matched", "{{hook_path}}", "{{hook_path}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.tmpl, data); got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandAll(t *testing.T) {
	got := ExpandAll([]string{"chown", "git:git", "{{HOOK_PATH}}"}, Data{HookPath: "/h"})
	want := []string{"chown", "git:git", "/h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandAll() = %v, want %v", got, want)
	}
}

func TestUnknown(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		want []string
	}{
		{"all known", "chmod 0755 {{HOOK_PATH}} {{ENDPOINT_ID}}", nil},
		{"one unknown", "echo {{PROJECT}}", []string{"PROJECT"}},
		{"duplicates reported once", "{{B}} {{A}} {{B}}", []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unknown(tt.tmpl, InstallerPlaceholders())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unknown() = %v, want %v", got, tt.want)
			}
		})
	}
}
