package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/reconcile"
	"saldo/internal/services"
)

var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

// app holds the services behind the operator commands.
type app struct {
	ledger    *services.LedgerService
	reports   *services.ReportService
	engine    *reconcile.Engine
	publisher services.Publisher // nil when reconciliation runs inline
	out       io.Writer
	commands  map[string]command
}

func newApp(ledger *services.LedgerService, reports *services.ReportService, engine *reconcile.Engine, out io.Writer) *app {
	a := &app{ledger: ledger, reports: reports, engine: engine, out: out}
	a.commands = map[string]command{
		"register":       {"create a user with a default monthly budget", a.register},
		"login":          {"reconcile pending transactions as a login would", a.login},
		"add":            {"record a transaction", a.add},
		"update":         {"change fields of a transaction", a.update},
		"delete":         {"delete one or more transactions", a.delete},
		"list":           {"list transactions newest first", a.list},
		"recalculate":    {"rebuild the whole history of a user", a.recalculate},
		"snapshot":       {"reconcile months with uncounted transactions", a.snapshot},
		"resync":         {"re-aggregate the given months", a.resync},
		"budget":         {"set the budget of one month", a.budget},
		"default-budget": {"set the default budget and apply it to the current month", a.defaultBudget},
		"summary":        {"show the current month", a.overview},
		"year":           {"show the twelve months of a year", a.year},
		"trend":          {"show daily spending of a month", a.trend},
		"domains":        {"list the categories of a direction", a.domains},
	}
	return a
}

// run executes one command line. Unknown commands print the usage.
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return errUsage
	}
	cmd, ok := a.commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(ctx, args[1:])
}

// shell runs commands read line by line until EOF or "quit".
func (a *app) shell(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		args, err := splitArgs(scanner.Text())
		switch {
		case err != nil:
			fmt.Fprintln(a.out, "error:", err)
		case len(args) == 0:
		case args[0] == "quit" || args[0] == "exit":
			return nil
		default:
			if err := a.run(ctx, args); err != nil && !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
				fmt.Fprintln(a.out, "error:", err)
			}
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

func (a *app) usage() {
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(a.out, "usage: saldo <command> [flags]")
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%s\n", name, a.commands[name].summary)
	}
	fmt.Fprintf(w, "  shell\trun commands from stdin\n")
	w.Flush()
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func requireUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("-user is required: %w", core.ErrEmptyUser)
	}
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := a.flags("register")
	user := fs.String("user", "", "user id")
	budget := fs.String("budget", "0", "default monthly budget")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	amount, err := parseBudget(*budget)
	if err != nil {
		return err
	}
	if err := a.ledger.RegisterUser(ctx, *user, amount); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s with default budget %s\n", *user, amount)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := a.ledger.OnAuthenticated(ctx, *user)
	if err != nil {
		return err
	}
	a.printResult(res)
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := a.flags("add")
	user := fs.String("user", "", "user id")
	date := fs.String("date", time.Now().UTC().Format(time.DateOnly), "transaction date (YYYY-MM-DD)")
	direction := fs.String("direction", string(core.Debit), "debit or credit")
	domain := fs.String("domain", "", "category")
	title := fs.String("title", "", "title")
	desc := fs.String("desc", "", "description")
	amount := fs.String("amount", "", "amount, e.g. 12.50")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}

	d, err := parseDate(*date)
	if err != nil {
		return err
	}
	m, err := parseAmount(*amount)
	if err != nil {
		return err
	}

	tx, err := a.ledger.CreateTransaction(ctx, services.TransactionInput{
		UserID:      *user,
		Date:        d,
		Domain:      *domain,
		Title:       *title,
		Description: *desc,
		Amount:      m,
		Direction:   core.Direction(strings.ToLower(*direction)),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s\n", tx.ID)
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := a.flags("update")
	user := fs.String("user", "", "user id")
	id := fs.String("id", "", "transaction id")
	date := fs.String("date", "", "new date (YYYY-MM-DD)")
	direction := fs.String("direction", "", "new direction")
	domain := fs.String("domain", "", "new category")
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description")
	amount := fs.String("amount", "", "new amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	var patch services.TransactionPatch
	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "date":
			d, err := parseDate(*date)
			if err != nil {
				parseErr = err
				return
			}
			patch.Date = &d
		case "amount":
			m, err := parseAmount(*amount)
			if err != nil {
				parseErr = err
				return
			}
			patch.Amount = &m
		case "direction":
			dir := core.Direction(strings.ToLower(*direction))
			patch.Direction = &dir
		case "domain":
			patch.Domain = domain
		case "title":
			patch.Title = title
		case "desc":
			patch.Description = desc
		}
	})
	if parseErr != nil {
		return parseErr
	}

	tx, err := a.ledger.UpdateTransaction(ctx, *user, *id, patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "updated %s (%s %s %s)\n", tx.ID, tx.Date.Format(time.DateOnly), tx.Direction, tx.Amount)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := a.flags("delete")
	user := fs.String("user", "", "user id")
	ids := fs.String("id", "", "comma separated transaction ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	list := splitList(*ids)
	if len(list) == 0 {
		return errors.New("-id is required")
	}

	if len(list) == 1 {
		if err := a.ledger.DeleteTransaction(ctx, *user, list[0]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "deleted 1 transaction")
		return nil
	}
	n, err := a.ledger.BulkDelete(ctx, *user, list)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %d transactions\n", n)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := a.flags("list")
	user := fs.String("user", "", "user id")
	direction := fs.String("direction", "", "debit or credit")
	domain := fs.String("domain", "", "category")
	from := fs.String("from", "", "first month (YYYY-MM)")
	to := fs.String("to", "", "last month (YYYY-MM), inclusive")
	search := fs.String("search", "", "text in title or description")
	limit := fs.Int("limit", 50, "maximum rows")
	offset := fs.Int("offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := core.TransactionFilter{
		Direction: core.Direction(strings.ToLower(*direction)),
		Domain:    *domain,
		Search:    *search,
		Limit:     *limit,
		Offset:    *offset,
	}
	if *from != "" {
		k, err := core.ParseMonthKey(*from)
		if err != nil {
			return err
		}
		f.From = k.Start()
	}
	if *to != "" {
		k, err := core.ParseMonthKey(*to)
		if err != nil {
			return err
		}
		f.To = k.End()
	}

	txs, err := a.ledger.ListTransactions(ctx, *user, f)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tDIRECTION\tAMOUNT\tDOMAIN\tTITLE\tCOUNTED")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			tx.ID, tx.Date.Format(time.DateOnly), tx.Direction, tx.Amount, tx.Domain, tx.Title, tx.Counted)
	}
	return w.Flush()
}

func (a *app) recalculate(ctx context.Context, args []string) error {
	fs := a.flags("recalculate")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := a.ledger.Recalculate(ctx, *user)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "savings %s, deficit %s\n", b.Savings, b.Deficit)
	return nil
}

func (a *app) snapshot(ctx context.Context, args []string) error {
	fs := a.flags("snapshot")
	user := fs.String("user", "", "user id")
	async := fs.Bool("async", false, "publish to the worker instead of running here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	return a.reconcile(ctx, amqp.NewReconcileMessage(*user, amqp.ActionSnapshot), *async)
}

func (a *app) resync(ctx context.Context, args []string) error {
	fs := a.flags("resync")
	user := fs.String("user", "", "user id")
	months := fs.String("months", "", "comma separated months (YYYY-MM)")
	async := fs.Bool("async", false, "publish to the worker instead of running here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(*user); err != nil {
		return err
	}
	list := splitList(*months)
	for _, m := range list {
		if _, err := core.ParseMonthKey(m); err != nil {
			return err
		}
	}
	return a.reconcile(ctx, amqp.NewReconcileMessage(*user, amqp.ActionResync, list...), *async)
}

func (a *app) reconcile(ctx context.Context, msg *amqp.ReconcileMessage, async bool) error {
	if async {
		if a.publisher == nil {
			return errors.New("-async needs AMQP_URL")
		}
		if err := a.publisher.Publish(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "published %s for %s\n", msg.Action, msg.UserID)
		return nil
	}

	res, err := services.RunReconcile(ctx, a.engine, msg)
	if err != nil {
		return err
	}
	a.reports.Invalidate(msg.UserID)
	a.printResult(res)
	return nil
}

func (a *app) budget(ctx context.Context, args []string) error {
	fs := a.flags("budget")
	user := fs.String("user", "", "user id")
	month := fs.String("month", "", "month (YYYY-MM), defaults to the current one")
	amount := fs.String("amount", "", "budget amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := a.engine.CurrentMonth()
	if *month != "" {
		k, err := core.ParseMonthKey(*month)
		if err != nil {
			return err
		}
		key = k
	}
	m, err := parseBudget(*amount)
	if err != nil {
		return err
	}
	if err := a.ledger.UpdateMonthBudget(ctx, *user, key, m); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "budget of %s set to %s\n", key, m)
	return nil
}

func (a *app) defaultBudget(ctx context.Context, args []string) error {
	fs := a.flags("default-budget")
	user := fs.String("user", "", "user id")
	amount := fs.String("amount", "", "budget amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := parseBudget(*amount)
	if err != nil {
		return err
	}
	if err := a.ledger.UpdateDefaultBudget(ctx, *user, m); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "default budget set to %s\n", m)
	return nil
}

func (a *app) overview(ctx context.Context, args []string) error {
	fs := a.flags("overview")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := a.reports.MonthOverview(ctx, *user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "month\t%s\t\n", o.Month)
	fmt.Fprintf(w, "budget\t%s\t\n", o.Budget)
	fmt.Fprintf(w, "debit\t%s\t\n", o.Debit)
	fmt.Fprintf(w, "credit\t%s\t\n", o.Credit)
	fmt.Fprintf(w, "remaining\t%s\t\n", o.Remaining)
	fmt.Fprintf(w, "savings\t%s\t\n", o.Savings)
	fmt.Fprintf(w, "deficit\t%s\t\n", o.Deficit)
	return w.Flush()
}

func (a *app) year(ctx context.Context, args []string) error {
	fs := a.flags("year")
	user := fs.String("user", "", "user id")
	year := fs.Int("year", a.engine.CurrentMonth().Year(), "calendar year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	y, err := a.reports.YearOverview(ctx, *user, *year)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "MONTH\tBUDGET\tDEBIT\tCREDIT\t")
	for _, m := range y.Months {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", m.Month, m.Budget, m.Debit, m.Credit)
	}
	return w.Flush()
}

func (a *app) trend(ctx context.Context, args []string) error {
	fs := a.flags("trend")
	user := fs.String("user", "", "user id")
	month := fs.String("month", "", "month (YYYY-MM), defaults to the current one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := a.engine.CurrentMonth()
	if *month != "" {
		key = core.MonthKey(*month)
	}
	days, err := a.reports.DailyTrend(ctx, *user, key)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DAY\tSPENT\t")
	for _, d := range days {
		fmt.Fprintf(w, "%d\t%s\t\n", d.Day, d.Amount)
	}
	return w.Flush()
}

func (a *app) domains(_ context.Context, args []string) error {
	fs := a.flags("domains")
	direction := fs.String("direction", string(core.Debit), "debit or credit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir := core.Direction(strings.ToLower(*direction))
	if !dir.Valid() {
		return core.ErrInvalidDirection
	}
	for _, d := range core.Domains(dir) {
		fmt.Fprintln(a.out, d)
	}
	return nil
}

func (a *app) printResult(res reconcile.Result) {
	if len(res.Months) == 0 {
		fmt.Fprintf(a.out, "nothing to reconcile; savings %s, deficit %s\n", res.Balance.Savings, res.Balance.Deficit)
		return
	}
	months := make([]string, len(res.Months))
	for i, m := range res.Months {
		months[i] = m.String()
	}
	fmt.Fprintf(a.out, "reconciled %s; savings %s, deficit %s\n",
		strings.Join(months, ","), res.Balance.Savings, res.Balance.Deficit)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return core.NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return core.Cents(cents), nil
}

func parseBudget(s string) (core.Money, error) {
	cents, err := core.ParseSignedDecimalToCents(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("budget %q: %w", s, err)
	}
	return core.Cents(cents), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitArgs splits a shell line on spaces, keeping double-quoted runs
// together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case (r == ' ' || r == '\t') && !quoted:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
