// Command minibase is a line-oriented REPL over the buffer pool / lock
// manager storage core: CREATE TABLE, INSERT, SELECT, DELETE, and explicit
// BEGIN/COMMIT/ROLLBACK, each statement running inside its own transaction
// unless a BEGIN is already open.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/xwb1989/sqlparser"

	mb "minibase"
)

type session struct {
	dataDir string
	catalog *mb.SimpleCatalog
	logFile *mb.LogFile
	bp      *mb.BufferPool

	tid   mb.TransactionID
	inTxn bool
}

func main() {
	dataDir := flag.String("data", "./minibase-data", "directory for table and log files")
	maxPages := flag.Int("pages", mb.DefaultPages, "buffer pool capacity, in pages")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	sess, err := newSession(*dataDir, *maxPages)
	if err != nil {
		log.Fatalf("starting minibase: %v", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "minibase> ",
		HistoryFile:     filepath.Join(*dataDir, ".history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("starting readline: %v", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("readline: %v", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if out, err := sess.execute(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else if out != "" {
			fmt.Println(out)
		}
	}
}

func newSession(dataDir string, maxPages int) (*session, error) {
	catalog := mb.NewSimpleCatalog()
	logFile, err := mb.NewLogFile(filepath.Join(dataDir, "minibase.wal"), catalog)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	bp := mb.NewBufferPool(maxPages, catalog, logFile)
	if err := logFile.Recover(bp); err != nil {
		return nil, fmt.Errorf("recovering: %w", err)
	}
	return &session{dataDir: dataDir, catalog: catalog, logFile: logFile, bp: bp}, nil
}

// currentTid returns the session's open transaction, starting an implicit
// one-statement transaction if none is open.
func (s *session) currentTid() (mb.TransactionID, bool) {
	if s.inTxn {
		return s.tid, false
	}
	return mb.NewTID(), true
}

func (s *session) execute(line string) (string, error) {
	upper := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	switch upper {
	case "BEGIN":
		if s.inTxn {
			return "", fmt.Errorf("transaction already open")
		}
		s.tid = mb.NewTID()
		s.inTxn = true
		s.logFile.LogBegin(s.tid)
		return "transaction started", nil
	case "COMMIT":
		if !s.inTxn {
			return "", fmt.Errorf("no transaction open")
		}
		err := s.bp.TransactionComplete(s.tid, true)
		s.inTxn = false
		if err != nil {
			return "", err
		}
		return "committed", nil
	case "ROLLBACK":
		if !s.inTxn {
			return "", fmt.Errorf("no transaction open")
		}
		err := s.bp.TransactionComplete(s.tid, false)
		s.inTxn = false
		if err != nil {
			return "", err
		}
		return "rolled back", nil
	}

	if strings.HasPrefix(upper, "CREATE TABLE") {
		return s.createTable(line)
	}
	if strings.HasPrefix(upper, "STATS ") {
		return s.stats(strings.TrimSpace(line[len("STATS "):]))
	}

	tid, implicit := s.currentTid()
	if implicit {
		s.logFile.LogBegin(tid)
	}

	out, err := s.executeStatement(tid, line)
	if mb.IsTransactionAborted(err) {
		_ = s.bp.TransactionComplete(tid, false)
		s.inTxn = false
		return out, fmt.Errorf("%w (transaction rolled back; retry it)", err)
	}
	if implicit {
		if err != nil {
			_ = s.bp.TransactionComplete(tid, false)
		} else {
			err = s.bp.TransactionComplete(tid, true)
		}
	}
	return out, err
}

func (s *session) executeStatement(tid mb.TransactionID, line string) (string, error) {
	stmt, err := sqlparser.Parse(line)
	if err != nil {
		return "", fmt.Errorf("parsing statement: %w", err)
	}

	switch st := stmt.(type) {
	case *sqlparser.Insert:
		return s.doInsert(tid, st)
	case *sqlparser.Select:
		return s.doSelect(tid, st)
	case *sqlparser.Delete:
		return s.doDelete(tid, st)
	default:
		return "", fmt.Errorf("unsupported statement: %T", st)
	}
}

func (s *session) tableFile(name string) (*mb.HeapFile, int32, error) {
	id, ok := s.catalog.TableID(name)
	if !ok {
		return nil, 0, fmt.Errorf("no such table %q", name)
	}
	f, err := s.catalog.GetDbFile(id)
	if err != nil {
		return nil, 0, err
	}
	hf, ok := f.(*mb.HeapFile)
	if !ok {
		return nil, 0, fmt.Errorf("table %q is not a heap file", name)
	}
	return hf, id, nil
}

func (s *session) doInsert(tid mb.TransactionID, st *sqlparser.Insert) (string, error) {
	tableName := sqlparser.String(st.Table.Name)
	hf, tableID, err := s.tableFile(tableName)
	if err != nil {
		return "", err
	}

	values, ok := st.Rows.(sqlparser.Values)
	if !ok {
		return "", fmt.Errorf("only literal VALUES inserts are supported")
	}

	desc := hf.Descriptor()
	rows := make([]*mb.Tuple, 0, len(values))
	for _, row := range values {
		if len(row) != len(desc.Fields) {
			return "", fmt.Errorf("expected %d values, got %d", len(desc.Fields), len(row))
		}
		fields := make([]mb.DBValue, len(row))
		for i, expr := range row {
			v, err := literalValue(expr, desc.Fields[i].Kind)
			if err != nil {
				return "", err
			}
			fields[i] = v
		}
		rows = append(rows, &mb.Tuple{Desc: *desc, Fields: fields})
	}

	ins := mb.NewInsertOp(s.bp, tableID, mb.NewLiteralOp(desc, rows))
	iter, err := ins.Iterator(tid)
	if err != nil {
		return "", err
	}
	result, err := iter()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("inserted %d row(s)", result.Fields[0].(mb.IntField).Value), nil
}

func (s *session) doSelect(tid mb.TransactionID, st *sqlparser.Select) (string, error) {
	if len(st.From) != 1 {
		return "", fmt.Errorf("only single-table SELECT is supported")
	}
	tableName := sqlparser.String(st.From[0])
	hf, _, err := s.tableFile(tableName)
	if err != nil {
		return "", err
	}

	iter, err := mb.NewScanOp(hf).Iterator(tid)
	if err != nil {
		return "", err
	}

	var rows []string
	for t, err := iter(); ; t, err = iter() {
		if err != nil {
			return "", err
		}
		if t == nil {
			break
		}
		rows = append(rows, formatTuple(t))
	}
	return fmt.Sprintf("%s\n%s row(s)", strings.Join(rows, "\n"), humanize.Comma(int64(len(rows)))), nil
}

func (s *session) doDelete(tid mb.TransactionID, st *sqlparser.Delete) (string, error) {
	if len(st.TableExprs) != 1 {
		return "", fmt.Errorf("only single-table DELETE is supported")
	}
	tableName := sqlparser.String(st.TableExprs[0])
	hf, tableID, err := s.tableFile(tableName)
	if err != nil {
		return "", err
	}

	del := mb.NewDeleteOp(s.bp, tableID, mb.NewScanOp(hf))
	iter, err := del.Iterator(tid)
	if err != nil {
		return "", err
	}
	result, err := iter()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %d row(s)", result.Fields[0].(mb.IntField).Value), nil
}

func (s *session) createTable(line string) (string, error) {
	// CREATE TABLE name (col TYPE, col TYPE, ...) -- a deliberately small
	// grammar handled without sqlparser, which models DDL too loosely for
	// our fixed-width schema needs.
	open := strings.Index(line, "(")
	shut := strings.LastIndex(line, ")")
	if open < 0 || shut < open {
		return "", fmt.Errorf("expected CREATE TABLE name (col TYPE, ...)")
	}
	header := strings.Fields(line[:open])
	if len(header) < 3 {
		return "", fmt.Errorf("expected CREATE TABLE name (...)")
	}
	tableName := header[2]

	var fields []mb.FieldType
	for _, col := range strings.Split(line[open+1:shut], ",") {
		parts := strings.Fields(strings.TrimSpace(col))
		if len(parts) != 2 {
			return "", fmt.Errorf("bad column definition %q", col)
		}
		kind := mb.IntType
		if strings.HasPrefix(strings.ToUpper(parts[1]), "VARCHAR") || strings.ToUpper(parts[1]) == "STRING" {
			kind = mb.StringType
		}
		fields = append(fields, mb.FieldType{Name: parts[0], Kind: kind})
	}

	tableID := s.catalog.NextTableID()
	path := filepath.Join(s.dataDir, tableName+".tbl")
	hf, err := mb.NewHeapFile(path, &mb.TupleDesc{Fields: fields}, tableID, s.bp)
	if err != nil {
		return "", err
	}
	s.catalog.AddTable(tableName, hf)
	return fmt.Sprintf("table %q created", tableName), nil
}

func (s *session) stats(tableName string) (string, error) {
	hf, _, err := s.tableFile(tableName)
	if err != nil {
		return "", err
	}
	st, err := mb.ComputeTableStats(s.bp, hf)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s rows over %s page(s), scan cost ~%s",
		humanize.Comma(int64(st.EstimateCardinality(1.0))),
		humanize.Comma(int64(hf.NumPages())),
		humanize.Comma(int64(st.EstimateScanCost()))), nil
}

func literalValue(expr sqlparser.Expr, kind mb.FieldKind) (mb.DBValue, error) {
	lit, ok := expr.(*sqlparser.SQLVal)
	if !ok {
		return nil, fmt.Errorf("only literal values are supported")
	}
	switch kind {
	case mb.IntType:
		v, err := strconv.ParseInt(string(lit.Val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing int literal: %w", err)
		}
		return mb.IntField{Value: v}, nil
	default:
		return mb.StringField{Value: string(lit.Val)}, nil
	}
}

func formatTuple(t *mb.Tuple) string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		switch v := f.(type) {
		case mb.IntField:
			parts[i] = strconv.FormatInt(v.Value, 10)
		case mb.StringField:
			parts[i] = v.Value
		}
	}
	return strings.Join(parts, "\t")
}
