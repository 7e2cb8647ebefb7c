package version

// Version is the release tag reported by the banner and the system API.
const Version = "0.1.0"
