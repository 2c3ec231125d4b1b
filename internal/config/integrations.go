package config

import "graphmem/internal/mcp"

// ToMCPServerConfig converts the server section into the MCP client's
// connection config.
func (c *Config) ToMCPServerConfig() mcp.MCPServerConfig {
	protocol := c.Server.Protocol
	if protocol == "" {
		protocol = string(mcp.ProtocolHTTP)
	}
	timeout := c.Server.Timeout
	if timeout == "" {
		timeout = "30s"
	}

	return mcp.MCPServerConfig{
		ID:                c.Server.ID,
		Enabled:           true,
		Protocol:          protocol,
		BaseURL:           c.Server.BaseURL,
		Endpoint:          c.Server.Command,
		Timeout:           timeout,
		Headers:           c.Server.Headers,
		AutoConnect:       true,
		AutoDiscoverTools: true,
	}
}

// ToBreakerConfig converts the breaker section.
func (c *Config) ToBreakerConfig() mcp.BreakerConfig {
	return mcp.BreakerConfig{
		MaxRequests:      c.Breaker.MaxRequests,
		Interval:         c.GetBreakerInterval(),
		Timeout:          c.GetBreakerTimeout(),
		FailureThreshold: c.Breaker.FailureThreshold,
	}
}
