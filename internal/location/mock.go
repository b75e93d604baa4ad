package location

// IsSuspectedMock reports whether loc looks synthetic. With a native flag the
// flag is returned as is. Without one, a non-empty AllowMockLocation setting
// or a provider literally named "mock" marks the fix; this fallback is a
// heuristic and can be wrong both ways.
func IsSuspectedMock(p Platform, loc *Location) bool {
	if loc == nil {
		return false
	}
	if p.SyntheticFlag {
		return loc.FromMockProvider
	}
	return p.AllowMockLocation != "" || loc.Provider == MockProvider
}
