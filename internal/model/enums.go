package model

type AccountRole string

const (
	RolePersonal AccountRole = "personal"
	RoleBusiness AccountRole = "business"
)

type AccountTier string

const (
	TierBasic    AccountTier = "basic"
	TierStandard AccountTier = "standard"
	TierPremium  AccountTier = "premium"
)
