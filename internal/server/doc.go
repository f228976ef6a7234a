// Package server implements the hookbox HTTP API.
//
// Every route under /api requires the actor header set by the
// authenticating proxy in front of hookbox. Mutating requests are written
// to the audit trail after they complete.
//
// Routes:
//   - /api/hooks: hook CRUD, versions, downloads and diffs
//   - /api/hooks/{id}/deploy: deploy to a server, project or group
//   - /api/deployments: deployment history
//   - /api/provider: provider listings and configuration
//
// Errors are JSON objects of the form {"error": "..."}; the status code
// follows the error kind (see statusFor).
package server
