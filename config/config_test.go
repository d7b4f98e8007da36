package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsNormalized(t *testing.T) {
	cfg := Default()

	if cfg.Routing.HomeCountry != "KR" {
		t.Fatalf("home country = %q", cfg.Routing.HomeCountry)
	}
	if len(cfg.Routing.Routes) == 0 {
		t.Fatal("route table empty")
	}
	if cfg.Branches.Timeout <= 0 {
		t.Fatalf("branch timeout = %v", cfg.Branches.Timeout)
	}
	if cfg.History.MaxTurns <= 0 || cfg.History.TTL <= 0 {
		t.Fatalf("history defaults: %+v", cfg.History)
	}
	if cfg.Regression.MaxDebugEntries != 20 || cfg.Regression.DefaultStaleness != 45*24*time.Hour {
		t.Fatalf("regression defaults: %+v", cfg.Regression)
	}
	if len(cfg.Context.RegionNames) == 0 || len(cfg.Context.InternalPrefixes) == 0 {
		t.Fatalf("context humanizer defaults missing: %+v", cfg.Context)
	}
}

func TestRouteTableShape(t *testing.T) {
	byType := map[string]RouteConfig{}
	for _, r := range DefaultRoutes() {
		byType[r.Type] = r
	}

	stock, ok := byType[RouteUSSingleStock]
	if !ok {
		t.Fatal("us_single_stock route missing")
	}
	if stock.DefaultCountry != "US" || len(stock.Sections) != 4 {
		t.Fatalf("stock route = %+v", stock)
	}

	re := byType[RouteRealEstateDetail]
	if !re.HomeDefault || !re.SQLNeed || re.GraphNeed || !re.GraphEscalation {
		t.Fatalf("real estate route = %+v", re)
	}

	gen := byType[RouteGeneral]
	if len(gen.Keywords) != 0 || gen.SQLNeed || !gen.GraphNeed {
		t.Fatalf("general route = %+v", gen)
	}
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  address: ":9091"
routing:
  home_country: jp
branches:
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MACROSCOPE_SERVER_ADDRESS", ":9999")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("env override lost: %q", cfg.Server.Address)
	}
	if cfg.Branches.Timeout != 3*time.Second {
		t.Fatalf("branch timeout = %v", cfg.Branches.Timeout)
	}
	// file value survives where no env var overrides it
	if cfg.Routing.HomeCountry != "jp" {
		t.Fatalf("home country = %q", cfg.Routing.HomeCountry)
	}
	// unmentioned sections still get normalized defaults
	if len(cfg.Routing.Routes) == 0 {
		t.Fatal("route table not defaulted")
	}
}

func TestLoadConfigExplicitMissingFileFails(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err == nil {
		t.Fatal("expected error for explicitly named missing file")
	}
	if cfg != nil {
		t.Fatalf("cfg should be nil on error, got %+v", cfg)
	}
}
