// Package webhook accepts signed phrases from outside services and injects
// them into the speech engine as if the player had said them.
//
// Each endpoint has its own pre-shared secret. A request body is
//
//	{"said": "open the shipping bin"}
//
// signed with HMAC-SHA256 over the raw body and sent in the endpoint's
// signature header, either as "sha256=<hex>" or bare hex.
//
// Responses:
//
//   - 202 Accepted: the phrase reached a listening speech handler
//   - 400 Bad Request: body is not a phrase
//   - 403 Forbidden: missing or wrong signature (no details)
//   - 409 Conflict: no speech handler is listening
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 503 Service Unavailable: the host did not take the phrase
package webhook
