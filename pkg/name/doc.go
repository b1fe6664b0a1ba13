// Package name implements DNS domain name values.
//
// A Name is an ordered list of labels plus an absolute flag: "web" is
// relative, "web.prod.example.com." is absolute. Arithmetic between the
// two forms goes through Concat and StripSuffix, which return explicit
// errors instead of silently producing names outside the intended zone.
// Comparison is case-insensitive throughout.
package name
