package types

// BillingCycle values accepted by the billing system's AddOrder call.
type BillingCycle string

const (
	BillingCycleMonthly      BillingCycle = "monthly"
	BillingCycleQuarterly    BillingCycle = "quarterly"
	BillingCycleSemiannually BillingCycle = "semiannually"
	BillingCycleAnnually     BillingCycle = "annually"
)

func (b BillingCycle) Valid() bool {
	switch b {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleSemiannually, BillingCycleAnnually:
		return true
	}
	return false
}

// ProductMapping binds a public plan id to the billing system's product id.
type ProductMapping struct {
	PlanID    string `json:"plan_id" mapstructure:"plan_id"`
	ProductID int    `json:"product_id" mapstructure:"product_id"`
}
