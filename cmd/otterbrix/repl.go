package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/otterbrix/kernel/pkg/dispatcher"
	"github.com/otterbrix/kernel/pkg/engine"
	"github.com/otterbrix/kernel/pkg/types"
)

// repl is the interactive command loop: a liner prompt, a command
// history file, and a switch over the first word of each line.
type repl struct {
	kernel *engine.Kernel
	line   *liner.State
}

func newREPL(k *engine.Kernel) *repl {
	return &repl{kernel: k}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".otterbrix_history")
}

// run drives the prompt loop until EOF, Ctrl-D, or an "exit"/"quit"
// command: exit code 0 on a clean exit, 1 if the session ended on an
// unrecovered statement error, 2 if it ended on a malformed command.
func (r *repl) run() int {
	r.line = liner.NewLiner()
	defer r.line.Close()
	r.line.SetCtrlCAborts(true)

	if f, err := os.Open(historyPath()); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("otterbrix - embedded kernel shell. Type 'help' for commands, 'exit' to quit.")

	exitCode := 0
	for {
		text, err := r.line.Prompt("otterbrix> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintln(os.Stderr, "input error:", err)
			exitCode = 1
			break
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		r.line.AppendHistory(text)

		word := strings.ToUpper(strings.Fields(text)[0])
		switch word {
		case "EXIT", "QUIT", "Q":
			r.saveHistory()
			return 0
		case "HELP", "?":
			printHelp()
			continue
		}

		if err := r.execute(text); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			exitCode = 1
			if _, ok := err.(*errUsage); ok {
				exitCode = 2
			}
			continue
		}
		exitCode = 0
	}
	r.saveHistory()
	return exitCode
}

func (r *repl) saveHistory() {
	path := historyPath()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
}

// execute binds and runs one statement, special-casing INSERT (the only
// statement whose plan node needs schema-aware binding performed ahead
// of dispatch).
func (r *repl) execute(text string) error {
	ctx := context.Background()

	if ins, matched, err := tryParseInsert(text); matched {
		if err != nil {
			return err
		}
		return r.execInsert(ctx, ins)
	}

	node, err := parseStatement(text)
	if err != nil {
		return err
	}
	cur, err := r.kernel.Execute(ctx, node)
	if err != nil {
		return err
	}
	if cur != nil {
		printCursor(cur)
	}
	return nil
}

func (r *repl) execInsert(ctx context.Context, ins insertHeader) error {
	meta, err := r.kernel.Collection(ins.Database, ins.Collection)
	if err != nil {
		return err
	}
	boundRows := make([][]types.LogicalValue, 0, len(ins.Rows))
	for _, raw := range ins.Rows {
		bound, err := r.kernel.BindRow(meta, ins.Columns, raw)
		if err != nil {
			return err
		}
		boundRows = append(boundRows, bound)
	}
	_, err = r.kernel.Execute(ctx, dispatcher.Insert{
		Database: ins.Database, Collection: ins.Collection, Rows: boundRows,
	})
	return err
}

func printCursor(cur *dispatcher.Cursor) {
	n := 0
	for cur.Next() {
		row := cur.Row()
		parts := make([]string, len(row.Values))
		for i, v := range row.Values {
			parts[i] = v.String()
		}
		fmt.Printf("(%s)\n", strings.Join(parts, ", "))
		n++
	}
	fmt.Printf("%d row(s)\n", n)
}

func printHelp() {
	fmt.Print(`Commands:
  CREATE DATABASE name;
  DROP DATABASE name;
  CREATE TABLE db.table (col type [NOT NULL], ...) [WITH (storage='disk')];
  DROP TABLE db.table;
  CREATE [UNIQUE] INDEX name ON db.table (col);
  DROP INDEX db.table.name;
  INSERT INTO db.table (cols) VALUES (...), ...;
  SELECT * FROM db.table [WHERE col op val] [ORDER BY col [DESC]] [LIMIT n];
  UPDATE db.table SET col = val [WHERE col op val];
  DELETE FROM db.table [WHERE col op val];
  CHECKPOINT [db[.table]];
  VACUUM [db[.table]];
  help
  exit / quit / q
`)
}
