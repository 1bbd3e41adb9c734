package cli

import (
	"fmt"
	"time"

	"github.com/qbanklabs/qbank-go/internal/infrastructure/config"
)

// resolveTenant resolves the tenant identifier from flags or defaults.
// Priority: --tenant flag > user config default.
// Returns an error only if no tenant can be identified from any source.
func resolveTenant() (string, error) {
	if tenantFlag != "" {
		return tenantFlag, nil
	}

	// Try to load the default tenant from user config
	userConfigHandler, err := config.NewUserConfigHandler()
	if err != nil {
		return "", fmt.Errorf("no tenant specified and failed to load user config: %w", err)
	}

	userCfg, err := userConfigHandler.Load()
	if err != nil {
		return "", fmt.Errorf("no tenant specified and failed to load user config: %w", err)
	}

	if userCfg.DefaultTenant != "" {
		return userCfg.DefaultTenant, nil
	}

	return "", fmt.Errorf("no tenant specified: use --tenant, or set a default with 'qbank config set-tenant'")
}

// formatTimestamp renders an absolute time for table output
func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatOptionalTime renders a nullable time, "-" when unset
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTimestamp(*t)
}

// formatUptime renders seconds as a compact duration
func formatUptime(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
