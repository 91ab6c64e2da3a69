package version

// Version is overridden at build time with -ldflags "-X hashsweep/version.Version=...".
var Version = "dev"
