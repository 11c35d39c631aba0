package loyalty

import "os"

// Флаги движка, читаются один раз при старте и передаются в сервис.
// В рантайме окружение больше не опрашивается.
type FeatureFlags struct {
	Ledger   bool // вести журнал транзакций
	EarnLots bool // вести лоты начислений
}

func FlagsFromEnv() FeatureFlags {
	return FeatureFlags{
		Ledger:   os.Getenv("LOYALTY_LEDGER_OFF") == "",
		EarnLots: os.Getenv("LOYALTY_EARN_LOTS_OFF") == "",
	}
}
