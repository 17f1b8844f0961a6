package core

// MonthOverview is the live view of one month: stored totals plus any
// transactions that were not reconciled yet.
type MonthOverview struct {
	Month     MonthKey
	Budget    Money
	Debit     Money
	Credit    Money
	Remaining Money // Budget + Credit - Debit
	// Projected lifetime figures including unreconciled transactions.
	Savings Money
	Deficit Money
}

// YearMonth is one row of a yearly overview.
type YearMonth struct {
	Month  MonthKey
	Budget Money
	Debit  Money
	Credit Money
}

// YearOverview lists the twelve months of Year in order.
type YearOverview struct {
	Year   int
	Months []YearMonth
}

// DailyAmount is the spending total of one day of a month.
type DailyAmount struct {
	Day    int
	Amount Money
}
