package main

import (
	"os"
	"strings"
	"sync"

	"github.com/narrately/api/pkg/renderclient"
)

const defaultServer = "http://localhost:8000"

// defaultPollConfig is swapped by tests to shrink delays.
var defaultPollConfig = renderclient.DefaultPollConfig

type commandContext struct {
	serverFlag   *string
	clientIDFlag *string

	pollConfig func() renderclient.PollConfig

	clientOnce sync.Once
	client     *renderclient.Client
}

func newCommandContext(serverFlag, clientIDFlag *string) *commandContext {
	return &commandContext{
		serverFlag:   serverFlag,
		clientIDFlag: clientIDFlag,
		pollConfig:   defaultPollConfig,
	}
}

func (c *commandContext) serverURL() string {
	if v := flagValue(c.serverFlag); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("RENDERCTL_SERVER")); v != "" {
		return v
	}
	return defaultServer
}

func (c *commandContext) clientID() string {
	if v := flagValue(c.clientIDFlag); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("RENDERCTL_CLIENT_ID"))
}

func (c *commandContext) apiClient() *renderclient.Client {
	c.clientOnce.Do(func() {
		var opts []renderclient.Option
		if id := c.clientID(); id != "" {
			opts = append(opts, renderclient.WithClientID(id))
		}
		c.client = renderclient.New(c.serverURL(), opts...)
	})
	return c.client
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
