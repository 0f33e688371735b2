package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ABM", cfg.Symbol)
	assert.Equal(t, 4, cfg.Count)
	assert.Equal(t, int64(1), cfg.MinOrderSize)
	assert.Equal(t, int64(10), cfg.MaxOrderSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TRADER_COUNT", "2")
	t.Setenv("TRADER_MAX_ORDER_SIZE", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Count)
	assert.Equal(t, int64(25), cfg.MaxOrderSize)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Symbol:          "ABM",
			Count:           2,
			MinOrderSize:    1,
			MaxOrderSize:    10,
			MarketOrderProb: 0.2,
			MaxOpenOrders:   8,
			StartingCash:    1000,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Symbol = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Count = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MinOrderSize = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MaxOrderSize = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MarketOrderProb = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.StartingCash = -1
	assert.Error(t, cfg.Validate())
}
