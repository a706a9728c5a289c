//go:build darwin

package services

func detectProvider(func(string) (string, error)) Provider {
	return &LaunchctlProvider{run: execRunner}
}
