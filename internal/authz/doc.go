// Package authz decides whether a user may perform a permission-gated action.
//
// A Service is built from a Snapshot of the user's site and organization
// roles and answers checks without I/O. Site roles apply everywhere;
// organization roles apply only inside the organization they are held in.
// Grants are a union: there are no deny rules, so holding more roles can only
// allow more.
//
// The organization hierarchy is not consulted by default. Callers that want a
// parent organization's roles to reach its children use
// HasPermissionConsideringAncestors explicitly. Peer associations never
// influence a decision.
package authz
