package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/models"
)

func runGet(c *cli.Context) error {
	id, err := argID(c)
	if err != nil {
		return err
	}

	rec, err := meta(c).client.Get(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, rec)
}

func runHistory(c *cli.Context) error {
	id, err := argID(c)
	if err != nil {
		return err
	}

	entries, err := meta(c).client.History(context.Background(), id)
	if err != nil {
		return err
	}

	for i, e := range entries {
		fmt.Fprintf(c.App.Writer, "%3d  %s  %-42s  %-8s  %s\n",
			len(entries)-i,
			e.CommittedAt.Format("2006-01-02 15:04:05"),
			e.OwnerPrincipal,
			models.SizeLabel(e.SizeCm),
			e.Note,
		)
	}
	return nil
}

func runPedigree(c *cli.Context) error {
	id, err := argID(c)
	if err != nil {
		return err
	}

	raw, err := meta(c).client.Pedigree(context.Background(), id, c.Int("depth"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, raw)
}

func runMint(c *cli.Context) error {
	m := meta(c)
	ctx, err := mutationContext(m)
	if err != nil {
		return err
	}

	id := c.String("id")
	if id == "" {
		return ErrIDRequired
	}
	if c.String("photo") == "" {
		return ErrPhotoRequired
	}

	form := clients.Form{Fields: attributeFields(c)}
	form.Fields["id"] = id
	setIfPresent(form.Fields, "issuer_name", c.String("issuer-name"))
	setIfPresent(form.Fields, "father_id", c.String("father"))
	setIfPresent(form.Fields, "mother_id", c.String("mother"))

	if form.Uploads, err = uploads(c, "photo", "cert", "contest"); err != nil {
		return err
	}

	if m.verbose {
		fmt.Fprintf(c.App.ErrWriter, "minting %s as %s with %d uploads\n", id, m.principal, len(form.Uploads))
	}

	raw, err := m.client.Mint(ctx, form)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, raw)
}

func runTransfer(c *cli.Context) error {
	m := meta(c)
	ctx, err := mutationContext(m)
	if err != nil {
		return err
	}

	id, err := argID(c)
	if err != nil {
		return err
	}
	if c.String("to") == "" {
		return ErrNewOwnerRequired
	}
	if c.String("note") == "" {
		return ErrNoteRequired
	}

	form := clients.Form{Fields: attributeFields(c)}
	form.Fields["new_owner"] = c.String("to")
	form.Fields["note"] = c.String("note")
	setIfPresent(form.Fields, "new_owner_name", c.String("to-name"))

	if form.Uploads, err = uploads(c, "photo"); err != nil {
		return err
	}

	raw, err := m.client.Transfer(ctx, id, form)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, raw)
}

func runUpdate(c *cli.Context) error {
	m := meta(c)
	ctx, err := mutationContext(m)
	if err != nil {
		return err
	}

	id, err := argID(c)
	if err != nil {
		return err
	}
	if c.String("note") == "" {
		return ErrNoteRequired
	}

	form := clients.Form{Fields: attributeFields(c)}
	form.Fields["note"] = c.String("note")

	if form.Uploads, err = uploads(c, "photo", "cert", "contest"); err != nil {
		return err
	}

	raw, err := m.client.Update(ctx, id, form)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, raw)
}

func argID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", ErrIDRequired
	}
	return id, nil
}

// attributeFields only sends the attributes given on the command line
func attributeFields(c *cli.Context) map[string]string {
	fields := map[string]string{}
	for flag, field := range map[string]string{
		"variety":   "variety",
		"breeder":   "breeder",
		"gender":    "gender",
		"age":       "age",
		"condition": "condition",
		"size-cm":   "size_cm",
	} {
		if c.IsSet(flag) {
			fields[field] = c.String(flag)
		}
	}
	return fields
}

func setIfPresent(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func uploads(c *cli.Context, names ...string) ([]clients.Upload, error) {
	var out []clients.Upload
	for _, name := range names {
		path := c.String(name)
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read --%s: %w", name, err)
		}
		out = append(out, clients.Upload{Field: name, Filename: filepath.Base(path), Data: data})
	}
	return out, nil
}

func printJSON(w io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", b)
	return nil
}
