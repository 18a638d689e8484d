package workflow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/stupidking717/kerdar-sub000/pkg/expr"
)

// executeManualTrigger emits the run's input data, or one empty item.
func executeManualTrigger(ec *ExecutionContext) ([][]ExecutionItem, error) {
	items := ec.GetInputData(0)
	if len(items) == 0 {
		items = []ExecutionItem{{JSON: map[string]any{}}}
	}
	return [][]ExecutionItem{items}, nil
}

// executeNoOp passes its first input through unchanged.
func executeNoOp(ec *ExecutionContext) ([][]ExecutionItem, error) {
	items := ec.GetInputData(0)
	if items == nil {
		items = []ExecutionItem{}
	}
	return [][]ExecutionItem{items}, nil
}

// executeSet assigns the "values" parameter onto each item. Dotted keys
// create nested objects. With "keepOnlySet" the input fields are dropped.
func executeSet(ec *ExecutionContext) ([][]ExecutionItem, error) {
	var out []ExecutionItem
	err := ec.EachItem(func(i int, item ExecutionItem) error {
		keepOnly, err := ec.GetNodeParameterBool("keepOnlySet", false)
		if err != nil {
			return err
		}
		raw, err := ec.GetNodeParameter("values", map[string]any{})
		if err != nil {
			return err
		}
		values, ok := raw.(map[string]any)
		if !ok {
			return validationErrorf(ec.Node().ID, "parameter \"values\" must be an object")
		}

		res := map[string]any{}
		if !keepOnly {
			res = deepCopyMap(item.JSON)
		}
		for key, v := range values {
			setPath(res, key, v)
		}
		out = append(out, ExecutionItem{
			JSON:       res,
			Binary:     item.Binary,
			PairedItem: &PairedItem{Item: i},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ExecutionItem{}
	}
	return [][]ExecutionItem{out}, nil
}

// executeIf routes each item to output 0 when its conditions hold and to
// output 1 otherwise. "combineOperation" is "all" (default) or "any".
func executeIf(ec *ExecutionContext) ([][]ExecutionItem, error) {
	trueItems, falseItems := []ExecutionItem{}, []ExecutionItem{}
	err := ec.EachItem(func(i int, item ExecutionItem) error {
		combine, err := ec.GetNodeParameterString("combineOperation", "all")
		if err != nil {
			return err
		}
		raw, err := ec.GetNodeParameter("conditions")
		if err != nil {
			return err
		}
		conds, ok := raw.([]any)
		if !ok {
			return validationErrorf(ec.Node().ID, "parameter \"conditions\" must be a list")
		}

		result := combine != "any"
		for _, c := range conds {
			m, ok := c.(map[string]any)
			if !ok {
				return validationErrorf(ec.Node().ID, "condition must be an object")
			}
			op, _ := m["operation"].(string)
			met, err := evaluateCondition(m["value1"], op, m["value2"])
			if err != nil {
				return validationErrorf(ec.Node().ID, "%v", err)
			}
			ec.Logger().Debug("Condition evaluated",
				"expression", fmt.Sprintf("%s %s %s",
					expr.Stringify(m["value1"]), operatorSymbol(op), expr.Stringify(m["value2"])),
				"result", met)
			if combine == "any" && met {
				result = true
				break
			}
			if combine != "any" && !met {
				result = false
				break
			}
		}

		item.PairedItem = &PairedItem{Item: i}
		if result {
			trueItems = append(trueItems, item)
		} else {
			falseItems = append(falseItems, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return [][]ExecutionItem{trueItems, falseItems}, nil
}

// executeHTTPRequest issues one request per input item. JSON responses are
// split into items; other bodies become text or binary data.
func executeHTTPRequest(ec *ExecutionContext) ([][]ExecutionItem, error) {
	var out []ExecutionItem
	err := ec.EachItem(func(i int, _ ExecutionItem) error {
		opts, err := requestOptions(ec)
		if err != nil {
			return err
		}
		ignoreStatus, err := ec.GetNodeParameterBool("ignoreHttpStatusErrors", false)
		if err != nil {
			return err
		}

		resp, err := ec.Helpers().Request(opts)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusBadRequest && !ignoreStatus {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		ec.Logger().Debug("Request completed",
			"url", opts.URL, "method", opts.Method, "statusCode", resp.StatusCode)

		var items []ExecutionItem
		switch {
		case resp.JSON != nil:
			items = ec.Helpers().ReturnJSONArray(resp.JSON)
		case isText(resp.Body):
			items = []ExecutionItem{{JSON: map[string]any{"data": string(resp.Body)}}}
		default:
			bin := ec.Helpers().PrepareBinaryData(resp.Body, "", resp.Headers.Get("Content-Type"))
			items = []ExecutionItem{{
				JSON:   map[string]any{},
				Binary: map[string]BinaryData{"data": bin},
			}}
		}
		for _, it := range items {
			it.PairedItem = &PairedItem{Item: i}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ExecutionItem{}
	}
	return [][]ExecutionItem{out}, nil
}

func requestOptions(ec *ExecutionContext) (RequestOptions, error) {
	var opts RequestOptions
	var err error
	if opts.URL, err = ec.GetNodeParameterString("url"); err != nil {
		return opts, err
	}
	if opts.Method, err = ec.GetNodeParameterString("method", http.MethodGet); err != nil {
		return opts, err
	}
	if opts.Headers, err = stringMapParam(ec, "headers"); err != nil {
		return opts, err
	}
	if opts.Query, err = stringMapParam(ec, "query"); err != nil {
		return opts, err
	}
	if opts.Body, err = ec.GetNodeParameter("body", nil); err != nil {
		return opts, err
	}
	timeout, err := ec.GetNodeParameterFloat("timeout", 0)
	if err != nil {
		return opts, err
	}
	opts.Timeout = time.Duration(timeout) * time.Millisecond

	auth, err := ec.GetNodeParameterString("authentication", "none")
	if err != nil {
		return opts, err
	}
	switch auth {
	case "none", "":
	case "httpHeaderAuth":
		creds, err := ec.GetCredentials(auth)
		if err != nil {
			return opts, err
		}
		name, _ := creds["name"].(string)
		value, _ := creds["value"].(string)
		if name == "" {
			return opts, validationErrorf(ec.Node().ID, "header credentials have no name")
		}
		opts.Headers = withHeader(opts.Headers, name, value)
	case "httpBasicAuth":
		creds, err := ec.GetCredentials(auth)
		if err != nil {
			return opts, err
		}
		user, _ := creds["user"].(string)
		password, _ := creds["password"].(string)
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		opts.Headers = withHeader(opts.Headers, "Authorization", "Basic "+token)
	default:
		return opts, validationErrorf(ec.Node().ID, "unsupported authentication %q", auth)
	}
	return opts, nil
}

// executeEmailDraft builds an email payload per item without sending it.
func executeEmailDraft(ec *ExecutionContext) ([][]ExecutionItem, error) {
	var out []ExecutionItem
	err := ec.EachItem(func(i int, _ ExecutionItem) error {
		to, err := ec.GetNodeParameterString("to")
		if err != nil {
			return err
		}
		from, err := ec.GetNodeParameterString("from", "weather-alerts@example.com")
		if err != nil {
			return err
		}
		subject, err := ec.GetNodeParameterString("subject", "")
		if err != nil {
			return err
		}
		body, err := ec.GetNodeParameterString("body", "")
		if err != nil {
			return err
		}
		if strings.TrimSpace(to) == "" {
			return validationErrorf(ec.Node().ID, "recipient is empty")
		}

		draft := map[string]any{
			"to":        to,
			"from":      from,
			"subject":   subject,
			"body":      body,
			"timestamp": ec.run.now().UTC().Format(time.RFC3339),
		}
		out = append(out, ExecutionItem{
			JSON: map[string]any{
				"message":    fmt.Sprintf("Email drafted for %s", to),
				"emailDraft": draft,
			},
			PairedItem: &PairedItem{Item: i},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ExecutionItem{}
	}
	return [][]ExecutionItem{out}, nil
}

// executeWait pauses for "amount" of "unit" then passes its input through.
func executeWait(ec *ExecutionContext) ([][]ExecutionItem, error) {
	amount, err := ec.GetNodeParameterFloat("amount", 0)
	if err != nil {
		return nil, err
	}
	unit, err := ec.GetNodeParameterString("unit", "milliseconds")
	if err != nil {
		return nil, err
	}
	var scale time.Duration
	switch unit {
	case "milliseconds":
		scale = time.Millisecond
	case "seconds":
		scale = time.Second
	case "minutes":
		scale = time.Minute
	default:
		return nil, validationErrorf(ec.Node().ID, "unknown wait unit %q", unit)
	}

	if d := time.Duration(amount * float64(scale)); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ec.Context().Done():
			return nil, ec.Context().Err()
		}
	}
	return executeNoOp(ec)
}

// evaluateCondition compares two values. Numeric operands are rounded to
// one decimal place to avoid floating-point precision issues.
func evaluateCondition(left any, operator string, right any) (bool, error) {
	switch operator {
	case "contains":
		return strings.Contains(expr.Stringify(left), expr.Stringify(right)), nil
	case "is_empty":
		return isEmptyValue(left), nil
	case "is_not_empty":
		return !isEmptyValue(left), nil
	}

	l, lok := toFloat64(left)
	r, rok := toFloat64(right)
	if !lok || !rok {
		switch operator {
		case "equals":
			return expr.Stringify(left) == expr.Stringify(right), nil
		case "not_equals":
			return expr.Stringify(left) != expr.Stringify(right), nil
		case "greater_than", "less_than", "greater_than_or_equal", "less_than_or_equal":
			return false, fmt.Errorf("operator %q needs numeric operands", operator)
		}
		return false, fmt.Errorf("unknown operator %q", operator)
	}

	t := math.Round(l*10) / 10
	th := math.Round(r*10) / 10

	switch operator {
	case "greater_than":
		return t > th, nil
	case "less_than":
		return t < th, nil
	case "equals":
		return t == th, nil
	case "not_equals":
		return t != th, nil
	case "greater_than_or_equal":
		return t >= th, nil
	case "less_than_or_equal":
		return t <= th, nil
	}
	return false, fmt.Errorf("unknown operator %q", operator)
}

func operatorSymbol(op string) string {
	switch op {
	case "greater_than":
		return ">"
	case "less_than":
		return "<"
	case "equals":
		return "="
	case "not_equals":
		return "!="
	case "greater_than_or_equal":
		return ">="
	case "less_than_or_equal":
		return "<="
	case "contains":
		return "contains"
	default:
		return "?"
	}
}

// toFloat64 converts numbers, json.Number and numeric strings to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func isText(body []byte) bool {
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func stringMapParam(ec *ExecutionContext, name string) (map[string]string, error) {
	raw, err := ec.GetNodeParameter(name, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, validationErrorf(ec.Node().ID, "parameter %q must be an object", name)
	}
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[k] = expr.Stringify(v)
	}
	return res, nil
}

func withHeader(headers map[string]string, name, value string) map[string]string {
	if headers == nil {
		headers = map[string]string{}
	}
	headers[name] = value
	return headers
}

func setPath(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// deepCopyMap copies nested objects so items shared with other branches are
// never mutated.
func deepCopyMap(src map[string]any) map[string]any {
	res := maps.Clone(src)
	if res == nil {
		return map[string]any{}
	}
	for k, v := range res {
		if m, ok := v.(map[string]any); ok {
			res[k] = deepCopyMap(m)
		}
	}
	return res
}
