//go:build linux

package services

func detectProvider(lookPath func(string) (string, error)) Provider {
	if _, err := lookPath("systemctl"); err == nil {
		return NewSystemdProvider()
	}
	return &InitdProvider{run: execRunner}
}
