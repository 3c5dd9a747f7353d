package app

import (
	"fmt"
	"sort"

	"quotehub.com/internal/quotes/datasource/binance"
	"quotehub.com/internal/quotes/datasource/toobit"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/symbols"
	"quotehub.com/internal/quotes/topic"
)

type upstream interface {
	feed.Fetcher
	symbols.Source
}

// driver 一个交易所的接入实现
type driver struct {
	markets  []topic.MarketType
	protocol func(wsURL string) feed.Protocol
	client   func(c ExchangeConfig) upstream
}

var drivers = map[string]driver{
	toobit.Name: {
		markets:  []topic.MarketType{topic.Spot, topic.Contract},
		protocol: func(u string) feed.Protocol { return toobit.NewProtocol(u) },
		client:   func(c ExchangeConfig) upstream { return toobit.NewClient(c.REST) },
	},
	binance.Spot: {
		markets:  []topic.MarketType{topic.Spot},
		protocol: func(u string) feed.Protocol { return binance.NewSpotProtocol(u) },
		client:   func(c ExchangeConfig) upstream { return binance.NewSpotClient(c.REST) },
	},
	binance.USDM: {
		markets:  []topic.MarketType{topic.Contract},
		protocol: func(u string) feed.Protocol { return binance.NewUSDMProtocol(u) },
		client:   func(c ExchangeConfig) upstream { return binance.NewUSDMClient(c.REST) },
	},
}

// buildExchanges 按配置组装启用的交易所，同时把元数据源注册进 resolver
func buildExchanges(cfg map[string]ExchangeConfig, resolver *symbols.Resolver) ([]feed.Exchange, error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []feed.Exchange
	for _, name := range names {
		c := cfg[name]
		if !c.Enabled {
			continue
		}
		d, ok := drivers[name]
		if !ok {
			return nil, fmt.Errorf("exchange %q: no driver", name)
		}
		markets, err := pickMarkets(name, d.markets, c.Markets)
		if err != nil {
			return nil, err
		}

		client := d.client(c)
		resolver.Register(name, client)
		out = append(out, feed.Exchange{
			Name:     name,
			Markets:  markets,
			Push:     c.Push,
			Protocol: d.protocol(c.WSURL),
			Fetcher:  client,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no exchange enabled")
	}
	return out, nil
}

func pickMarkets(name string, supported []topic.MarketType, want []string) ([]topic.MarketType, error) {
	if len(want) == 0 {
		return supported, nil
	}
	out := make([]topic.MarketType, 0, len(want))
	for _, w := range want {
		m, err := topic.ParseMarketType(w)
		if err != nil {
			return nil, fmt.Errorf("exchange %q: %w", name, err)
		}
		found := false
		for _, s := range supported {
			if s == m {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("exchange %q does not support market_type %q", name, m)
		}
		out = append(out, m)
	}
	return out, nil
}
