package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gridsync/gridsync/internal/gateway"
)

// newClient connects to client.url. Each invocation gets its own client id so its
// change notifications can be told apart from other sessions.
func newClient(config Config) *gateway.HTTPGateway {
	return gateway.NewHTTPGateway(config.Client.URL, gateway.Options{
		Token:    config.Client.Token,
		ClientID: "cli-" + uuid.NewString(),
		Timeout:  config.Client.Timeout,
	})
}

// parseFilters turns "Column=value" arguments into filters. The value may be empty.
func parseFilters(args []string) ([]gateway.Filter, error) {
	filters := make([]gateway.Filter, 0, len(args))
	for _, arg := range args {
		col, val, ok := strings.Cut(arg, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q, expected Column=value", arg)
		}
		filters = append(filters, gateway.Filter{Column: col, Value: val})
	}
	return filters, nil
}
