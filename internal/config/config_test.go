package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VECTOR_PROMO_AUTH_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Counter.Window)
	assert.Equal(t, 5*time.Minute, cfg.Counter.SubWindow)
	assert.Equal(t, int64(50000), cfg.Counter.HighAmountThreshold)
	assert.Equal(t, 7, cfg.Attribution.ConversionWindowDays)
	assert.Equal(t, []string{"DAY09", "DAY10"}, cfg.Attribution.BonusDays)
	assert.Equal(t, []PriceVariant{{Label: "A", Price: 3900}, {Label: "B", Price: 4900}}, cfg.Experiment.PriceVariants)
	assert.Equal(t, int64(12900), cfg.Experiment.OfferPrices["SEASONPACK"])
	require.NotNil(t, cfg.Attribution.Location)
	assert.Equal(t, "Asia/Seoul", cfg.Attribution.Location.String())
	assert.Empty(t, cfg.Experiment.PlatformWeights)
}

func TestLoad_WeightsAndVariants(t *testing.T) {
	t.Setenv("VECTOR_PROMO_AUTH_ENABLED", "false")
	t.Setenv("VECTOR_PROMO_PLATFORM_WEIGHTS", "instagram=1.5, tiktok=0.5,broken,web=x")
	t.Setenv("VECTOR_PROMO_WEEKDAY_WEIGHTS", "월=2")
	t.Setenv("VECTOR_PROMO_PRICE_VARIANTS", "a=2900,b=3900,c=5900")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"instagram": 1.5, "tiktok": 0.5}, cfg.Experiment.PlatformWeights)
	assert.Equal(t, map[string]float64{"월": 2}, cfg.Experiment.WeekdayWeights)
	assert.Equal(t, []PriceVariant{{"A", 2900}, {"B", 3900}, {"C", 5900}}, cfg.Experiment.PriceVariants)
}

func TestValidate(t *testing.T) {
	t.Setenv("VECTOR_PROMO_AUTH_ENABLED", "false")

	t.Run("auth without key", func(t *testing.T) {
		t.Setenv("VECTOR_PROMO_AUTH_ENABLED", "true")
		t.Setenv("VECTOR_PROMO_API_KEY_MASTER", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown timezone", func(t *testing.T) {
		t.Setenv("VECTOR_PROMO_TIMEZONE", "Mars/Olympus")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("sub window larger than window", func(t *testing.T) {
		t.Setenv("VECTOR_PROMO_COUNTER_SUB_WINDOW", "45m")
		_, err := Load()
		assert.Error(t, err)
	})
}
