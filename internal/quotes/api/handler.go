package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/registry"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/common"
	"quotehub.com/pkg/register"
	"quotehub.com/pkg/xerr"
)

type SymbolLookup interface {
	Lookup(ctx context.Context, exchange string, market topic.MarketType, refresh bool) ([]model.SymbolInfo, error)
}

type NodeLister interface {
	Discover(ctx context.Context, serviceName string) ([]register.Instance, error)
}

type Health struct {
	Status    string   `json:"status"`
	Sessions  int      `json:"sessions"`
	Topics    int      `json:"topics"`
	Adapters  int      `json:"adapters"`
	Exchanges []string `json:"exchanges"`
}

type HealthFunc func() (registry.Stats, int, []string)

func healthz(fn HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := Health{Status: "ok"}
		if fn != nil {
			st, sessions, exchanges := fn()
			h.Sessions, h.Topics, h.Adapters, h.Exchanges = sessions, st.Topics, st.Adapters, exchanges
		}
		c.JSON(http.StatusOK, h)
	}
}

// GET /api/v1/symbols?exchange=toobit&market_type=contract&refresh=true
func symbolsHandler(lookup SymbolLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		exchange := c.Query("exchange")
		if exchange == "" {
			common.FailErr(c, xerr.New(xerr.RequestParamsError, "exchange is required"))
			return
		}
		market, err := topic.ParseMarketType(c.Query("market_type"))
		if err != nil {
			common.FailErr(c, err)
			return
		}
		refresh := false
		if s := c.Query("refresh"); s != "" {
			if refresh, err = strconv.ParseBool(s); err != nil {
				common.FailErr(c, xerr.New(xerr.RequestParamsError, "refresh must be a bool"))
				return
			}
		}

		infos, err := lookup.Lookup(c.Request.Context(), exchange, market, refresh)
		if err != nil {
			common.FailErr(c, err)
			return
		}
		common.Success(c, infos)
	}
}

func nodesHandler(service string, nodes NodeLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if nodes == nil {
			common.Success(c, []register.Instance{})
			return
		}
		list, err := nodes.Discover(c.Request.Context(), service)
		if err != nil {
			common.FailErr(c, xerr.Wrap(xerr.ServerCommonError, err))
			return
		}
		common.Success(c, list)
	}
}
