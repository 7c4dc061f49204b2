// Package types defines the collaborator contracts (Member, Project,
// MemberFilePersister), the descriptor header and layout kinds, the
// configuration, and the standard errors of the project-archive
// persistence core.
//
// An archive is a zip container holding one descriptor entry (.argo), one
// model entry (.xmi), zero or more diagram entries (.pgml) and optional
// to-do (.todo) and profile (.profile) entries. This package does not parse
// model semantics; it only names the pieces the rest of the module moves
// around as byte streams.
package types
