/*
Package tiled provides types, constants and functions that have no other dependencies
and can be used by all packages within tiled: leveled logging, the error taxonomy shared
by resolution, migration and caching, and small configuration helpers.
*/
package tiled
