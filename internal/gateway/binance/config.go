package binance

import (
	"strings"
	"time"

	"perpflow/internal/config"
)

type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	HTTPTimeout time.Duration
	ProxyURL    string
	APIKey      string
	APISecret   string
	Testnet     bool
}

// FromMarketConfig 由 market 配置段构造。
func FromMarketConfig(m config.MarketConfig) Config {
	return Config{
		RESTBaseURL: m.RESTBaseURL,
		WSBaseURL:   m.WSBaseURL,
		HTTPTimeout: time.Duration(m.HTTPTimeoutSeconds) * time.Second,
		ProxyURL:    m.Proxy,
		APIKey:      m.APIKey,
		APISecret:   m.APISecret,
		Testnet:     m.Testnet,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
		if out.Testnet {
			out.RESTBaseURL = "https://testnet.binancefuture.com"
		}
	}
	out.WSBaseURL = strings.TrimRight(strings.TrimSpace(out.WSBaseURL), "/")
	if out.WSBaseURL == "" {
		out.WSBaseURL = "wss://fstream.binance.com/ws"
		if out.Testnet {
			out.WSBaseURL = "wss://stream.binancefuture.com/ws"
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
