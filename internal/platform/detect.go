package platform

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

// Detect resolves the platform tag for the machine we are running on.
// It is the fallback used when no deployment target is configured
// explicitly; host information comes from gopsutil.
func Detect(ctx context.Context) (Tag, error) {
	_, _, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("detect host platform: %w", err)
	}
	tag, err := Resolve(version)
	if err != nil {
		return "", fmt.Errorf("detected host version %q: %w", version, err)
	}
	return tag, nil
}
