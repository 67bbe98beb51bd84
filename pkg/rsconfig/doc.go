/*
Package rsconfig builds and mutates replica-set configuration documents.
New member ids continue past the highest surviving id and surviving members
keep theirs; versions only move forward; the set name and term are never
touched.
*/
package rsconfig
