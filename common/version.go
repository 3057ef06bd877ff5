package common

// Version is the build version, overridden at link time via
// -ldflags "-X github.com/lakowske/podserve/common.Version=...".
var Version = "dev"

// PackageName is the service identifier used for metrics namespacing.
const PackageName = "certmgr"
