package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/erazemk/zaloga/internal/api"
	"github.com/erazemk/zaloga/internal/backup"
	"github.com/erazemk/zaloga/internal/config"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/mutation"
	"github.com/erazemk/zaloga/internal/view"
)

func cmdList(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("list", "list [flags]", `  -s, -search <text>      only items whose name contains text
      -notes              search notes too
  -f, -filter <filter>    all, low or zero (default: all)
  -o, -sort <order>       name, quantity, recency or none (default: most
                          recently used first, as the list was on opening)
      -json               print JSON instead of a table
  -w, -watch              reprint whenever the inventory changes
`)
	var (
		search, filter, sort string
		notes, asJSON, watch bool
	)
	fs.StringVar(&search, "search", "", "")
	fs.StringVar(&search, "s", "", "")
	fs.BoolVar(&notes, "notes", false, "")
	fs.StringVar(&filter, "filter", "", "")
	fs.StringVar(&filter, "f", "", "")
	fs.StringVar(&sort, "sort", "", "")
	fs.StringVar(&sort, "o", "", "")
	fs.BoolVar(&asJSON, "json", false, "")
	fs.BoolVar(&watch, "watch", false, "")
	fs.BoolVar(&watch, "w", false, "")

	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	q := view.Query{Search: search, SearchNotes: notes, Locale: systemLocale()}
	if q.Filter, err = view.ParseFilter(filter); err != nil {
		return err
	}
	if q.Sort, err = view.ParseSort(sort); err != nil {
		return err
	}

	show := func(items []model.Item) error {
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}
		return printItems(items)
	}

	// Each run is a fresh session, so without -sort the first view comes out
	// in recency order and -watch keeps that order as items change.
	var ordering view.Session
	if !watch {
		items, err := s.svc.List(ctx)
		if err != nil {
			return err
		}
		return show(ordering.View(items, q))
	}

	// Keep only the newest snapshot; a slow terminal skips intermediate ones.
	updates := make(chan []model.Item, 1)
	unsubscribe := s.svc.Subscribe(func(items []model.Item) {
		select {
		case <-updates:
		default:
		}
		updates <- items
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case items := <-updates:
			if !asJSON {
				fmt.Print("\033[H\033[2J")
			}
			if err := show(ordering.View(items, q)); err != nil {
				return err
			}
		}
	}
}

func printItems(items []model.Item) error {
	if len(items) == 0 {
		fmt.Println("No items.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTOCK\tMIN\tLAST USED\t")
	for _, item := range items {
		mark := ""
		switch {
		case item.IsOut():
			mark = " (out)"
		case item.IsLow():
			mark = " (low)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d%s\t%d\t%s\t\n",
			item.ID, item.Name, item.Stock, mark, item.MinStock, lastUsed(item))
	}
	return w.Flush()
}

func lastUsed(item model.Item) string {
	if item.LastUsed.IsZero() {
		return "never"
	}
	return humanize.Time(item.LastUsed)
}

// systemLocale reads the collation locale from LC_ALL, LC_COLLATE or LANG.
func systemLocale() language.Tag {
	for _, env := range []string{"LC_ALL", "LC_COLLATE", "LANG"} {
		v := os.Getenv(env)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		if tag, err := language.Parse(strings.ReplaceAll(v, "_", "-")); err == nil {
			return tag
		}
	}
	return language.Und
}

func cmdAdd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("add", "add [flags] <name>", `  -n, -stock <n>          units in stock (default: 0)
  -m, -min <n>            minimum stock (default: 0)
      -notes <text>       free-form notes
`)
	var (
		stock, minStock int
		notes           string
	)
	fs.IntVar(&stock, "stock", 0, "")
	fs.IntVar(&stock, "n", 0, "")
	fs.IntVar(&minStock, "min", 0, "")
	fs.IntVar(&minStock, "m", 0, "")
	fs.StringVar(&notes, "notes", "", "")

	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	draft := s.svc.NewDraft()
	draft.Name = strings.Join(fs.Args(), " ")
	draft.Stock = stock
	draft.MinStock = minStock
	draft.Notes = notes

	id, err := s.svc.SaveDraft(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdInc(ctx context.Context, cfg *config.Config, args []string) error {
	return adjust(ctx, cfg, "inc", 1, args)
}

func cmdDec(ctx context.Context, cfg *config.Config, args []string) error {
	return adjust(ctx, cfg, "dec", -1, args)
}

func adjust(ctx context.Context, cfg *config.Config, name string, sign int, args []string) error {
	fs := newFlagSet(name, name+" [flags] <item> [n]", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errors.New("expected an item and an optional amount")
	}
	n := 1
	if fs.NArg() == 2 {
		if n, err = mutation.ParseQuantity(fs.Arg(1)); err != nil {
			return err
		}
	}

	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}
	item, err := s.svc.ApplyDelta(ctx, id, sign*n)
	if errors.Is(err, model.ErrNegativeStock) {
		return fmt.Errorf("only %d %s left", item.Stock, item.Name)
	}
	if err != nil {
		return err
	}
	printStock(item)
	return nil
}

func cmdSet(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("set", "set [flags] <item> <n>", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("expected an item and a quantity")
	}
	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}
	item, err := s.svc.SetStock(ctx, id, fs.Arg(1))
	if err != nil {
		return err
	}
	printStock(item)
	return nil
}

func printStock(item model.Item) {
	switch {
	case item.IsOut():
		fmt.Printf("%s: %d (out of stock)\n", item.Name, item.Stock)
	case item.IsLow():
		fmt.Printf("%s: %d (low, minimum %d)\n", item.Name, item.Stock, item.MinStock)
	default:
		fmt.Printf("%s: %d\n", item.Name, item.Stock)
	}
}

func cmdEdit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("edit", "edit [flags] <item>", `      -name <name>        new name
  -m, -min <n>            minimum stock
      -notes <text>       notes; an empty value clears them
`)
	var (
		name, notes string
		minStock    int
	)
	fs.StringVar(&name, "name", "", "")
	fs.IntVar(&minStock, "min", 0, "")
	fs.IntVar(&minStock, "m", 0, "")
	fs.StringVar(&notes, "notes", "", "")

	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected an item")
	}
	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}
	item, err := s.svc.Get(ctx, id)
	if err != nil {
		return err
	}

	d := mutation.Details{Name: item.Name, MinStock: item.MinStock, Notes: item.Notes}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			d.Name = name
		case "min", "m":
			d.MinStock = minStock
		case "notes":
			d.Notes = notes
		}
	})

	if _, err := s.svc.EditDetails(ctx, id, d); err != nil {
		return err
	}
	return nil
}

func cmdRemove(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("rm", "rm [flags] <item>", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected an item")
	}
	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}
	existed, err := s.svc.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Println("Already deleted.")
	}
	return nil
}

func cmdImage(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("image", "image [flags] <item> <file|url>", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("expected an item and an image")
	}
	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}

	src := fs.Arg(1)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		_, err = s.svc.LinkImage(ctx, id, src)
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = s.svc.AttachImage(ctx, id, f)
	return err
}

func cmdNoImage(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("noimage", "noimage [flags] <item>", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected an item")
	}
	id, err := resolve(ctx, s.svc, fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = s.svc.RemoveImage(ctx, id)
	return err
}

func cmdReport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("report", "report [flags]", "")
	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	items, err := s.svc.List(ctx)
	if err != nil {
		return err
	}
	r := view.Summarize(items)

	fmt.Printf("%s items, %s units in stock\n",
		humanize.Comma(int64(r.TotalItems)), humanize.Comma(int64(r.TotalUnits)))
	if len(r.Low) > 0 {
		fmt.Printf("\nRunning low (%d):\n", len(r.Low))
		for _, item := range r.Low {
			fmt.Printf("  %s: %d of %d\n", item.Name, item.Stock, item.MinStock)
		}
	}
	if len(r.Zero) > 0 {
		fmt.Printf("\nOut of stock (%d):\n", len(r.Zero))
		for _, item := range r.Zero {
			fmt.Printf("  %s, last used %s\n", item.Name, lastUsed(item))
		}
	}
	return nil
}

func cmdBackup(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("backup", "backup [flags]", `  -o, -out <path>         write to path instead of stdout
`)
	var out string
	fs.StringVar(&out, "out", "", "")
	fs.StringVar(&out, "o", "", "")

	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	items, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	data, err := backup.Serialize(items)
	if err != nil {
		return err
	}

	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Backed up %d items (%s) to %s\n", len(items), humanize.Bytes(uint64(len(data))), out)
	return nil
}

func cmdRestore(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("restore", "restore [flags] <file|->", `      -mode <mode>        replace or merge (default: replace)
`)
	var mode string
	fs.StringVar(&mode, "mode", string(backup.ModeReplace), "")

	s, err := parse(ctx, fs, cfg, args)
	if err != nil {
		return err
	}
	defer s.close()

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected a backup file")
	}
	m, err := backup.ParseMode(mode)
	if err != nil {
		return err
	}

	var data []byte
	if fs.Arg(0) == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		return err
	}

	n, err := backup.Restore(ctx, s.repo, data, m, s.ids)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d items (%s)\n", n, m)
	return nil
}

func cmdPair(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	var (
		name string
		save bool
	)
	host, _ := os.Hostname()
	fs.StringVar(&name, "name", host, "")
	fs.StringVar(&name, "n", host, "")
	fs.BoolVar(&save, "save", false, "")
	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga pair [flags] <url> <key>

Flags:
  -n, -name <name>        device name shown in server logs (default: hostname)
      -save               write the server settings to .env
  -h, -help               show this help and exit
`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("expected a server url and a pairing key")
	}
	serverURL := strings.TrimRight(fs.Arg(0), "/")

	paired, err := requestPairing(ctx, serverURL, fs.Arg(1), name)
	if err != nil {
		return err
	}

	env := map[string]string{
		"ZALOGA_BACKEND":    config.BackendRemote,
		"ZALOGA_REMOTE_URL": serverURL,
		"ZALOGA_TOKEN":      paired.Token,
	}
	if save {
		existing, err := godotenv.Read()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading .env: %w", err)
		}
		if existing == nil {
			existing = map[string]string{}
		}
		for k, v := range env {
			existing[k] = v
		}
		if err := godotenv.Write(existing, ".env"); err != nil {
			return fmt.Errorf("writing .env: %w", err)
		}
		fmt.Printf("Paired as device %s. Settings saved to .env.\n", paired.DeviceID)
		return nil
	}

	fmt.Printf("Paired as device %s. Use the server with:\n\n", paired.DeviceID)
	for _, k := range []string{"ZALOGA_BACKEND", "ZALOGA_REMOTE_URL", "ZALOGA_TOKEN"} {
		fmt.Printf("  export %s=%s\n", k, env[k])
	}
	return nil
}

// requestPairing trades a pairing key for a device token.
func requestPairing(ctx context.Context, serverURL, key, name string) (api.PairResponse, error) {
	var paired api.PairResponse
	body, err := json.Marshal(api.PairRequest{Key: key, DeviceName: name})
	if err != nil {
		return paired, fmt.Errorf("encoding pairing request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/pair", bytes.NewReader(body))
	if err != nil {
		return paired, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return paired, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return paired, errors.New("the server rejected the pairing key")
	}
	if resp.StatusCode != http.StatusOK {
		return paired, fmt.Errorf("pairing failed: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&paired); err != nil {
		return paired, fmt.Errorf("decoding pairing response: %w", err)
	}
	return paired, nil
}

// resolve accepts an item id or a case-insensitive exact name.
func resolve(ctx context.Context, svc *inventory.Service, ref string) (string, error) {
	if _, err := svc.Get(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return "", err
	}

	items, err := svc.List(ctx)
	if err != nil {
		return "", err
	}
	var matches []model.Item
	for _, item := range items {
		if strings.EqualFold(item.Name, strings.TrimSpace(ref)) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no item %q", model.ErrNotFound, ref)
	case 1:
		return matches[0].ID, nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return "", fmt.Errorf("%q matches %d items (%s); use an id", ref, len(matches), strings.Join(ids, ", "))
	}
}
