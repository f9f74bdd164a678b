// Package auth issues and verifies the bearer tokens of the laurel HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. Each token carries
// a subject and a role; the role maps to a static permission set:
//
//	viewer   → device:read
//	operator → device:read, device:operate
//	admin    → device:read, device:operate, mesh:manage
//
// There are no user accounts. Tokens are minted out of band with
// `laurel token` and validated by signature only.
package auth
