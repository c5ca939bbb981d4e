package types

// Commodity identifies one of the two coffee futures tracked by the platform.
type Commodity string

const (
	CommodityArabica Commodity = "ARABICA"
	CommodityRobusta Commodity = "ROBUSTA"
)

// Commodities lists every tracked commodity, in scrape order (RM first, as the
// original schedule runs Robusta before Arabica).
var Commodities = []Commodity{CommodityRobusta, CommodityArabica}

// ExchangeCode returns the two-letter Barchart symbol prefix for the commodity.
func (c Commodity) ExchangeCode() string {
	switch c {
	case CommodityArabica:
		return "KC"
	case CommodityRobusta:
		return "RM"
	}
	return ""
}

// UnitLabel returns the native quoting unit of the commodity's exchange.
// Arabica trades in US cents per pound, Robusta in US dollars per metric tonne.
func (c Commodity) UnitLabel() string {
	switch c {
	case CommodityArabica:
		return "¢/lb"
	case CommodityRobusta:
		return "USD/Tonne"
	}
	return ""
}

// InventoryType returns the commodity string as stored on inventory rows.
func (c Commodity) InventoryType() string {
	switch c {
	case CommodityArabica:
		return "Arabica"
	case CommodityRobusta:
		return "Robusta"
	}
	return ""
}

// Grade is a processing stage / quality grade of stored coffee. Only the five
// numbered grades are collateral-eligible; the earlier stages exist so the
// mapping stays total over everything the inventory system can record.
type Grade string

const (
	GradeCherry   Grade = "CHERRY"
	GradeWashed   Grade = "WASHED"
	GradeDried    Grade = "DRIED"
	GradeUngraded Grade = "UNGRADED"
	Grade1        Grade = "GRADE_1"
	Grade2        Grade = "GRADE_2"
	Grade3        Grade = "GRADE_3"
	Grade4A       Grade = "GRADE_4A"
	Grade4B       Grade = "GRADE_4B"
)

// CollateralGrades are the grades that carry a discount tier and count toward
// collateral coverage.
var CollateralGrades = []Grade{Grade1, Grade2, Grade3, Grade4A, Grade4B}

// DisplayName returns the grade string as stored on inventory rows.
func (g Grade) DisplayName() string {
	switch g {
	case GradeCherry:
		return "Cherry"
	case GradeWashed:
		return "Washed"
	case GradeDried:
		return "Dried"
	case GradeUngraded:
		return "Ungraded"
	case Grade1:
		return "Grade 1"
	case Grade2:
		return "Grade 2"
	case Grade3:
		return "Grade 3"
	case Grade4A:
		return "Grade 4a"
	case Grade4B:
		return "Grade 4b"
	}
	return string(g)
}

// GradeFromDisplayName resolves an inventory grade string back to its Grade.
// The second return is false for strings outside the known set.
func GradeFromDisplayName(name string) (Grade, bool) {
	for _, g := range []Grade{
		GradeCherry, GradeWashed, GradeDried, GradeUngraded,
		Grade1, Grade2, Grade3, Grade4A, Grade4B,
	} {
		if g.DisplayName() == name {
			return g, true
		}
	}
	return "", false
}

// QuoteResponse mirrors the intercepted Barchart core-api payload.
type QuoteResponse struct {
	Data []QuoteRow `json:"data"`
}

// QuoteRow is one contract row of the quote list. The top-level fields are
// display strings; Raw carries the numeric values this pipeline consumes.
type QuoteRow struct {
	Symbol         string   `json:"symbol"`
	ContractSymbol string   `json:"contractSymbol"`
	Raw            RawQuote `json:"raw"`
}

// RawQuote is the numeric daily quote for a single futures contract, in the
// commodity's native units.
type RawQuote struct {
	Symbol             string  `json:"symbol"`
	DailyOpenPrice     float64 `json:"dailyOpenPrice"`
	DailyHighPrice     float64 `json:"dailyHighPrice"`
	DailyLowPrice      float64 `json:"dailyLowPrice"`
	DailyLastPrice     float64 `json:"dailyLastPrice"`
	DailyPriceChange   float64 `json:"dailyPriceChange"`
	DailyPreviousPrice float64 `json:"dailyPreviousPrice"`
	DailyVolume        int64   `json:"dailyVolume"`
	DailyOpenInterest  int64   `json:"dailyOpenInterest"`
	// DailyDate1dAgo is the exchange trading day the quote reflects, ISO date.
	DailyDate1dAgo string `json:"dailyDate1dAgo"`
}
