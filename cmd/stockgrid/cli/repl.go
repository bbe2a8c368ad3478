package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

const menu = `
--- Warehouse Management ---
1. Add product
2. Store product
3. Retrieve product
4. Find product
5. View warehouse
6. Validate quantities
7. Fix drift
8. Update product
9. Delete product
10. View activity log
0. Exit`

type session struct {
	cli *WarehouseCLI
	in  *bufio.Scanner
	out io.Writer
}

// REPL runs the interactive menu until the operator exits or input ends.
// State is force-saved on the way out.
func (c *WarehouseCLI) REPL(ctx context.Context, opts Options) int {
	opts.defaults()
	s := &session{cli: c, in: bufio.NewScanner(opts.Stdin), out: opts.Stdout}
	for {
		_, _ = fmt.Fprintln(s.out, menu)
		choice, ok := s.ask("Enter your choice: ")
		if !ok || choice == "0" || strings.EqualFold(choice, "exit") {
			break
		}
		if ctx.Err() != nil {
			break
		}
		switch choice {
		case "1":
			s.addProduct(ctx)
		case "2":
			s.moveStock(ctx, c.wh.StoreProduct, "stored")
		case "3":
			s.moveStock(ctx, c.wh.RetrieveProduct, "retrieved")
		case "4":
			s.findProduct()
		case "5":
			c.MapCommand(ctx, Options{Stdout: s.out})
			c.wh.Record(ctx, "Viewed warehouse map")
		case "6":
			c.renderDrifts(s.out, c.wh.Drifts())
		case "7":
			renderReport(s.out, c.wh.Reconcile(ctx, promptResolver(s.in, s.out)))
		case "8":
			s.updateProduct(ctx)
		case "9":
			s.deleteProduct(ctx)
		case "10":
			c.LogsCommand(ctx, LogsOptions{Options: Options{Stdout: s.out, Stderr: s.out}, Limit: 20})
		default:
			_, _ = fmt.Fprintln(s.out, "Invalid choice. Please try again.")
		}
	}
	if err := c.wh.Save(ctx, true); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Could not save data: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintln(s.out, "Data saved. Exiting...")
	return ExitOK
}

func (s *session) ask(prompt string) (string, bool) {
	_, _ = fmt.Fprint(s.out, prompt)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *session) askInt(prompt string) (int, bool) {
	text, ok := s.ask(prompt)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		_, _ = fmt.Fprintf(s.out, "%q is not a whole number.\n", text)
		return 0, false
	}
	return n, true
}

func (s *session) askLocation(prompt string) (warehouse.Coord, bool) {
	text, ok := s.ask(prompt)
	if !ok {
		return warehouse.Coord{}, false
	}
	coord, err := warehouse.ParseLocationCode(text)
	if err != nil {
		s.fail(err)
		return warehouse.Coord{}, false
	}
	return coord, true
}

func (s *session) fail(err error) {
	_, _ = fmt.Fprintf(s.out, "Error: %s\n", warehouse.UserMessage(err))
}

func (s *session) addProduct(ctx context.Context) {
	name, ok := s.ask("Product name: ")
	if !ok {
		return
	}
	sku, ok := s.ask("SKU (leave empty to generate): ")
	if !ok {
		return
	}
	if sku == "" {
		generated, err := s.cli.wh.GenerateSKU(name)
		if err != nil {
			s.fail(err)
			return
		}
		sku = generated
		_, _ = fmt.Fprintf(s.out, "Generated SKU %s\n", sku)
	}
	priceText, ok := s.ask("Price: ")
	if !ok {
		return
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		_, _ = fmt.Fprintf(s.out, "%q is not a valid price.\n", priceText)
		return
	}
	quantity, ok := s.askInt("Initial quantity: ")
	if !ok {
		return
	}
	product, err := warehouse.NewProduct(name, sku, price, quantity)
	if err != nil {
		s.fail(err)
		return
	}
	dist, err := s.cli.wh.AddProduct(ctx, product)
	if err != nil {
		s.fail(err)
		return
	}
	_, _ = fmt.Fprintf(s.out, "Product '%s' added successfully.\n", product.Name)
	for _, a := range dist.Placed {
		_, _ = fmt.Fprintf(s.out, "  %d units at %s\n", a.Quantity, a.Code())
	}
}

func (s *session) moveStock(ctx context.Context, move func(context.Context, string, int, int, int) error, verb string) {
	sku, ok := s.ask("SKU: ")
	if !ok {
		return
	}
	quantity, ok := s.askInt("Quantity: ")
	if !ok {
		return
	}
	coord, ok := s.askLocation("Location (e.g. B3): ")
	if !ok {
		return
	}
	if err := move(ctx, sku, quantity, coord.Row, coord.Col); err != nil {
		s.fail(err)
		return
	}
	_, _ = fmt.Fprintf(s.out, "Product %s successfully.\n", verb)
}

func (s *session) findProduct() {
	sku, ok := s.ask("SKU: ")
	if !ok {
		return
	}
	product, err := s.cli.wh.Product(sku)
	if err != nil {
		s.fail(err)
		return
	}
	coords := s.cli.wh.FindProduct(sku)
	if len(coords) == 0 {
		_, _ = fmt.Fprintf(s.out, "%s is not stored anywhere.\n", product)
		return
	}
	_, _ = fmt.Fprintf(s.out, "%s is stored at:\n", product)
	for _, coord := range coords {
		view, err := s.cli.wh.Location(coord.Row, coord.Col)
		if err != nil {
			continue
		}
		for _, item := range view.Items {
			if item.SKU == sku {
				_, _ = fmt.Fprintf(s.out, "  %s: %d units\n", view.Code, item.Quantity)
			}
		}
	}
}

func (s *session) updateProduct(ctx context.Context) {
	sku, ok := s.ask("SKU: ")
	if !ok {
		return
	}
	current, err := s.cli.wh.Product(sku)
	if err != nil {
		s.fail(err)
		return
	}
	var upd warehouse.ProductUpdate
	if name, ok := s.ask(fmt.Sprintf("Name [%s]: ", current.Name)); ok && name != "" {
		upd.Name = &name
	}
	if text, ok := s.ask(fmt.Sprintf("Price [%s]: ", current.Price.StringFixed(2))); ok && text != "" {
		price, err := decimal.NewFromString(text)
		if err != nil {
			_, _ = fmt.Fprintf(s.out, "%q is not a valid price.\n", text)
			return
		}
		upd.Price = &price
	}
	if text, ok := s.ask(fmt.Sprintf("Quantity [%d]: ", current.Quantity)); ok && text != "" {
		quantity, err := strconv.Atoi(text)
		if err != nil {
			_, _ = fmt.Fprintf(s.out, "%q is not a whole number.\n", text)
			return
		}
		upd.Quantity = &quantity
	}
	updated, err := s.cli.wh.UpdateProduct(ctx, sku, upd)
	if err != nil {
		s.fail(err)
		return
	}
	_, _ = fmt.Fprintf(s.out, "Updated %s\n", updated)
	if status, _ := s.cli.wh.Status(sku); status != warehouse.StatusConsistent {
		_, _ = fmt.Fprintln(s.out, "Recorded quantity no longer matches the warehouse. Use 'Fix drift' to reconcile.")
	}
}

func (s *session) deleteProduct(ctx context.Context) {
	sku, ok := s.ask("SKU: ")
	if !ok {
		return
	}
	confirm, ok := s.ask(fmt.Sprintf("Delete %s and remove it from every location? [y/N] ", sku))
	if !ok || !strings.EqualFold(confirm, "y") {
		_, _ = fmt.Fprintln(s.out, "Cancelled.")
		return
	}
	if err := s.cli.wh.DeleteProduct(ctx, sku); err != nil {
		s.fail(err)
		return
	}
	_, _ = fmt.Fprintf(s.out, "Product %s deleted.\n", sku)
}
