package config

// Route type names shared between the router and the route table.
const (
	RouteGeneral          = "general"
	RouteRealEstateDetail = "real_estate_detail"
	RouteUSSingleStock    = "us_single_stock"
	RouteMacroIndicator   = "macro_indicator"
	RouteIndustryTrend    = "industry_trend"
	RouteMarketWrap       = "market_wrap"
)

// Mandated section labels for single-entity factual layouts.
var StockFactSections = []string{"개요", "실적", "밸류에이션", "리스크"}

// DefaultRoutes returns the built-in route-type behavior table. Each record
// carries the scope-default policy, branch-need defaults and mandated output
// sections so downstream components never re-branch on the route type.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{
			Type:            RouteRealEstateDetail,
			Keywords:        []string{"부동산", "아파트", "전세", "매매가", "real estate", "housing", "apartment", "jeonse"},
			HomeDefault:     true,
			SQLNeed:         true,
			GraphNeed:       false,
			GraphEscalation: true,
			MinTrendPeriods: 6,
		},
		{
			Type:            RouteUSSingleStock,
			Keywords:        []string{"nasdaq", "nyse", "ticker", "주가", "실적 발표", "earnings", "stock price", "per", "eps"},
			DefaultCountry:  "US",
			SQLNeed:         true,
			GraphNeed:       true,
			Sections:        StockFactSections,
			MinTrendPeriods: 4,
		},
		{
			Type:            RouteMacroIndicator,
			Keywords:        []string{"금리", "물가", "cpi", "gdp", "환율", "interest rate", "inflation", "exchange rate", "unemployment"},
			HomeDefault:     true,
			SQLNeed:         true,
			GraphNeed:       true,
			MinTrendPeriods: 6,
		},
		{
			Type:            RouteIndustryTrend,
			Keywords:        []string{"업종", "산업", "반도체", "semiconductor", "sector", "industry", "battery", "이차전지"},
			HomeDefault:     true,
			SQLNeed:         true,
			GraphNeed:       true,
			MinTrendPeriods: 3,
		},
		{
			Type:           RouteMarketWrap,
			Keywords:       []string{"오늘 시장", "마감", "시황", "market wrap", "market close", "today's market"},
			HomeDefault:    true,
			SQLNeed:        true,
			GraphNeed:      false,
			DefaultCountry: "",
		},
		{
			Type:      RouteGeneral,
			Keywords:  nil, // fallback route, never keyword-matched
			SQLNeed:   false,
			GraphNeed: true,
		},
	}
}

// defaultRegionNames maps internal administrative region codes to display
// names. The builder humanizes codes before context reaches the synthesizer.
func defaultRegionNames() map[string]string {
	return map[string]string{
		"11": "Seoul",
		"26": "Busan",
		"27": "Daegu",
		"28": "Incheon",
		"29": "Gwangju",
		"30": "Daejeon",
		"31": "Ulsan",
		"36": "Sejong",
		"41": "Gyeonggi",
		"42": "Gangwon",
		"43": "North Chungcheong",
		"44": "South Chungcheong",
		"45": "North Jeolla",
		"46": "South Jeolla",
		"47": "North Gyeongsang",
		"48": "South Gyeongsang",
		"50": "Jeju",
	}
}
