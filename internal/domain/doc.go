// Package domain classifies heat-alert days and mortality surveillance zones.
//
// # Season
//
// Heat and mortality surveillance run over a season from November 1 of year Y to
// March 31 of year Y+1, keyed "Y-Y+1". April through October belong to no season:
//
//	2024-12-15  →  2024-2025
//	2025-02-10  →  2024-2025
//	2025-06-01  →  (none)
//
// Historical years are pooled onto a common axis by (month, day-of-month), see
// [SeasonDay]. Feb 29 is its own bucket and only receives leap-year data.
//
// # Heat alerts
//
// Tiers, lowest first: none, early_preventive, yellow, red. A hot day has
// t_max ≥ 34°C. Under the default SENAPRED scheme the rules run in this order,
// each overwriting the last:
//
//	in season (Nov–Mar)              early_preventive
//	t_max ≥ 40°C                     red
//	2 consecutive hot days           yellow
//	3 consecutive hot days           red
//
// Because the rules overwrite, a 40°C day that closes a 2-day hot window ends
// yellow unless it also closes a 3-day window. Windows count rows, so the input
// must hold exactly one row per calendar day ([Densify] fills gaps with missing
// days). A window with fewer rows than its length never triggers.
//
// The SEREMI scheme uses t_max ≥ 30°C instead of the calendar for the preventive
// tier and applies the 40°C rule after the 2-day rule.
//
// # Endemic corridor
//
// Daily counts for one age band are normalized per season population:
//
//	rate     = count / population × 100 000 + 1
//	log_rate = ln(rate)
//
// The +1 keeps the logarithm defined on zero-count days. The baseline holds the
// mean and sample standard deviation of log_rate per season day across
// historical seasons. Zones for a current day:
//
//	success       log_rate ≤ mean
//	safety        ≤ mean + sd
//	alert         ≤ mean + k·sd
//	above_alert   otherwise
//
// k is caller configuration. A season day seen in only one historical season has
// no standard deviation; a rate above its mean is reported as not computable.
//
// # Ages
//
// Death certificates state ages in years (unit 1), months (2), days (3) or hours
// (4). Anything under a year normalizes to age 0. Bands: under_1, 1_79, 80_plus.
package domain
