package version

// Version is the release version, set at build time with
// -ldflags "-X EnigmaNetz/Enigma-Go-Capture/internal/version.Version=..."
var Version = "dev"
