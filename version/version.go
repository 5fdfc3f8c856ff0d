package version

// VERSION is overridden at build time with -ldflags "-X".
var VERSION = "dev"
