package icons

// DefaultTableDef is the built-in icon set. Emoji names refer to application
// emojis uploaded to the bot; names the application is missing render as bare
// item names.
func DefaultTableDef() TableDef {
	return TableDef{
		GameIcons: map[string]string{
			"A Hat in Time":   "ahit_game",
			"Luigi's Mansion": "lm_game",
			"Super Mario 64":  "sm64_game",
			"Ocarina of Time": "oot_game",
			"Hollow Knight":   "hk_game",
		},
		TierIcons: map[string]string{
			TierProgression: "tier_progression",
			TierUseful:      "tier_useful",
			TierFiller:      "tier_filler",
			TierTrap:        "tier_trap",
		},
		ItemIcons: map[string][]MatcherDef{
			"A Hat in Time": {
				{Exact: []string{"Yarn"}, Emoji: "ahit_yarn"},
				{Exact: []string{"Time Piece"}, Emoji: "ahit_timepiece"},
				{Exact: []string{"Sprint Hat"}, Emoji: "ahit_sprinthat"},
				{Exact: []string{"Brewing Hat"}, Emoji: "ahit_brewinghat"},
				{Exact: []string{"Ice Hat"}, Emoji: "ahit_icehat"},
				{Exact: []string{"Dweller Mask"}, Emoji: "ahit_dwellerhat"},
				{Exact: []string{"Time Stop Hat"}, Emoji: "ahit_timestophat"},
				{Exact: []string{"Umbrella"}, Emoji: "ahit_umbrella"},
				{Exact: []string{"Health Pon"}, Emoji: "ahit_healthpon"},
				{Patterns: []string{`Relic.*`}, Emoji: "ahit_relic"},
				{Patterns: []string{`[0-9]+ Pons`}, Emoji: "ahit_pon"},
				{Patterns: []string{`Snatcher's Contract.*`}, Emoji: "ahit_contract"},
				{Patterns: []string{`Zipline Unlock.*`}, Emoji: "ahit_zipline"},
			},
			"Luigi's Mansion": {
				{Exact: []string{"Heart Key"}, Emoji: "lm_heartkey"},
				{Exact: []string{"Club Key"}, Emoji: "lm_clubkey"},
				{Exact: []string{"Diamond Key"}, Emoji: "lm_diamondkey"},
				{Exact: []string{"Spade Key"}, Emoji: "lm_spadekey"},
				{Patterns: []string{`.*Key`}, Emoji: "lm_key"},
				{Exact: []string{"Boo Radar"}, Emoji: "lm_booradar"},
				{Exact: []string{"Poltergust 4000"}, Emoji: "lm_poltergust4000"},
				{Patterns: []string{`.*Boo.*`}, Emoji: "lm_boo"},
				{
					Exact:    []string{"20 Coins & Bills"},
					Patterns: []string{`[0-9]+ Coins`, `[0-9]+ Bills`, `[0-9]+ Gold Bars`},
					Emoji:    "lm_bills",
				},
				{Exact: []string{"Sapphire", "Emerald", "Ruby", "Diamond"}, Emoji: "lm_jewel"},
			},
			"Super Mario 64": {
				{Exact: []string{"Power Star"}, Emoji: "sm64_star"},
				{Patterns: []string{`.*Key`}, Emoji: "sm64_key"},
				{Exact: []string{"Wing Cap"}, Emoji: "sm64_wingcap"},
				{Exact: []string{"Metal Cap"}, Emoji: "sm64_metalcap"},
				{Exact: []string{"Vanish Cap"}, Emoji: "sm64_vanishcap"},
				{Exact: []string{"1Up Mushroom"}, Emoji: "sm64_1up"},
			},
		},
	}
}
