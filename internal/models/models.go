package models

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Account{},
		&Transaction{},
		&Withdrawal{},
		&PromoCode{},
		&PromoRedemption{},
		&RequiredChannel{},
	}
}
