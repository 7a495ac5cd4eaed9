package engine

import (
	"fmt"

	"github.com/veridia/adscan/driver"
)

// Locators bundles the page addresses the orchestrator drives: region
// picker, category picker, search box and the suggestion dropdown. Every
// target is a fallback chain so a page redesign degrades instead of
// breaking.
type Locators struct {
	RegionMenu   driver.Chain
	RegionInput  driver.Chain
	RegionOption func(region string) driver.Chain

	CategoryMenu driver.Chain
	CategoryAll  driver.Chain

	SearchBox driver.Chain

	// SuggestionOption addresses the n-th (1-based) entry of the open
	// suggestion dropdown.
	SuggestionOption func(n int) driver.Locator
}

// DefaultLocators returns the locators of the ad library UI.
func DefaultLocators() Locators {
	return Locators{
		RegionMenu: driver.Chain{
			`//div[div/div/text()="All" or div/div/text()="Country"]/..`,
		},
		RegionInput: driver.Chain{
			`//input[@placeholder="Search for country"]`,
		},
		RegionOption: func(region string) driver.Chain {
			return driver.Chain{
				driver.Locator(fmt.Sprintf(`//div[contains(@id,"js_") and text()=%q]`, region)),
				driver.Locator(fmt.Sprintf(`//div[contains(@id,"js_") and contains(text(),%q)]`, region)),
				driver.Locator(fmt.Sprintf(`//div[text()=%q]`, region)),
				driver.Locator(fmt.Sprintf(`//div[contains(text(),%q)]`, region)),
				driver.Locator(fmt.Sprintf(`//span[text()=%q]`, region)),
				driver.Locator(fmt.Sprintf(`//span[contains(text(),%q)]`, region)),
				driver.Locator(fmt.Sprintf(`//*[text()=%q]`, region)),
			}
		},
		CategoryMenu: driver.Chain{
			`//div[div/div/text()="Ad category"]/..`,
		},
		CategoryAll: driver.Chain{
			`//span[text()="All ads"]/../../..`,
		},
		SearchBox: driver.Chain{
			`//input[@type="search" and contains(@placeholder,"keyword") and not(@aria-disabled="true")]`,
		},
		SuggestionOption: func(n int) driver.Locator {
			return driver.Locator(fmt.Sprintf(`(//li[@role='option'])[%d]`, n))
		},
	}
}
