//go:build !windows && !darwin && !linux

package services

func detectProvider(func(string) (string, error)) Provider {
	return &InitdProvider{run: execRunner}
}
