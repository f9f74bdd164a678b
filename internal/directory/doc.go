// Package directory loads mesh and device records from the vendor cloud or
// from a local file. Records are read once at startup.
//
// CloudClient authenticates against the vendor API and walks the account's
// meshes. FileSource reads the same records from YAML. MeshSpecs turns either
// into the specs mesh.NewNetwork expects.
package directory
