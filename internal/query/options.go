package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
)

// Recognized query string options.
const (
	OptionTop         = "$top"
	OptionSkip        = "$skip"
	OptionSelect      = "$select"
	OptionExpand      = "$expand"
	OptionFilter      = "$filter"
	OptionOrderBy     = "$orderby"
	OptionFormat      = "$format"
	OptionInlineCount = "$inlinecount"

	OptionScenario           = "scenario"
	OptionContentQuery       = "query"
	OptionAutofilters        = "enableautofilters"
	OptionLifespanFilter     = "enablelifespanfilter"
	OptionQueryExecutionMode = "queryexecutionmode"
	OptionMetadata           = "metadata"
	OptionMultistepSave      = "multistepsave"
	OptionRichTextEditor     = "richtexteditor"
	OptionVersion            = "version"
)

// IsSystemOption reports whether name is a query option consumed by the
// protocol layer rather than an operation parameter.
func IsSystemOption(name string) bool {
	return strings.HasPrefix(name, "$")
}

func parseOptions(req *Request, params url.Values) {
	req.Top = parseNonNegative(req, params.Get(OptionTop), odataerrors.InvalidTopParameter, odataerrors.NegativeTopParameter, OptionTop)
	req.Skip = parseNonNegative(req, params.Get(OptionSkip), odataerrors.InvalidSkipParameter, odataerrors.NegativeSkipParameter, OptionSkip)

	req.Select = splitList(params.Get(OptionSelect))
	if len(req.Select) == 1 && req.Select[0] == "*" {
		req.Select = nil
	}
	req.Expand = splitList(params.Get(OptionExpand))

	if raw := params.Get(OptionOrderBy); strings.TrimSpace(raw) != "" {
		sort, err := ParseOrderBy(raw)
		if err != nil {
			req.fail(err)
		}
		req.Sort = sort
	}

	switch strings.ToLower(strings.TrimSpace(params.Get(OptionInlineCount))) {
	case "", "none":
		req.InlineCount = InlineCountNone
	case "allpages":
		req.InlineCount = InlineCountAllPages
	default:
		req.fail(odataerrors.New(odataerrors.InvalidInlineCountParameter, "Invalid $inlinecount value: %q", params.Get(OptionInlineCount)))
	}

	if raw := params.Get(OptionFilter); strings.TrimSpace(raw) != "" {
		req.FilterText = raw
		expr, err := ParseFilter(raw)
		if err != nil {
			req.fail(odataerrors.Wrap(odataerrors.InvalidFilterParameter, err, "Invalid $filter expression"))
		}
		req.Filter = expr
	}

	req.Format = parseFormat(req, params.Get(OptionFormat))

	switch strings.ToLower(strings.TrimSpace(params.Get(OptionMetadata))) {
	case "", "full":
		req.EntityMetadata = MetadataFull
	case "minimal":
		req.EntityMetadata = MetadataMinimal
	case "no", "none":
		req.EntityMetadata = MetadataNone
	default:
		req.fail(odataerrors.New(odataerrors.InvalidMetadataParameter, "Invalid metadata value: %q", params.Get(OptionMetadata)))
	}

	req.Scenario = params.Get(OptionScenario)
	req.ContentQuery = params.Get(OptionContentQuery)
	req.Autofilters = parseFilterStatus(params.Get(OptionAutofilters))
	req.LifespanFilter = parseFilterStatus(params.Get(OptionLifespanFilter))

	switch strings.ToLower(strings.TrimSpace(params.Get(OptionQueryExecutionMode))) {
	case "quick":
		req.ExecutionMode = ExecutionQuick
	case "strict":
		req.ExecutionMode = ExecutionStrict
	default:
		req.ExecutionMode = ExecutionDefault
	}

	if b, err := strconv.ParseBool(strings.TrimSpace(params.Get(OptionMultistepSave))); err == nil {
		req.MultistepSave = b
	}
	req.RichTextEditor = splitList(params.Get(OptionRichTextEditor))
	req.Version = strings.TrimSpace(params.Get(OptionVersion))
}

func parseNonNegative(req *Request, raw string, invalid, negative odataerrors.Code, name string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		req.fail(odataerrors.New(invalid, "Invalid %s value: %q", name, raw))
		return 0
	}
	if n < 0 {
		req.fail(odataerrors.New(negative, "%s cannot be negative: %d", name, n))
		return 0
	}
	return n
}

func parseFormat(req *Request, raw string) string {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "" {
		if req.IsMetadataRequest {
			return FormatXML
		}
		return FormatJSON
	}
	switch format {
	case FormatJSON, FormatVerboseJSON, FormatExport:
		return format
	case FormatXML:
		if req.IsMetadataRequest {
			return format
		}
	}
	req.fail(odataerrors.New(odataerrors.InvalidFormatParameter, "Unsupported $format value: %q", raw))
	return FormatJSON
}

func parseFilterStatus(raw string) FilterStatus {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return FilterDefault
	}
	if b {
		return FilterEnabled
	}
	return FilterDisabled
}

// ParseOrderBy parses an $orderby value into sort keys.
func ParseOrderBy(raw string) ([]SortInfo, error) {
	var out []SortInfo
	for _, item := range strings.Split(raw, ",") {
		parts := strings.Fields(item)
		switch len(parts) {
		case 1:
			out = append(out, SortInfo{FieldName: parts[0]})
		case 2:
			switch strings.ToLower(parts[1]) {
			case "asc":
				out = append(out, SortInfo{FieldName: parts[0]})
			case "desc":
				out = append(out, SortInfo{FieldName: parts[0], Descending: true})
			default:
				return nil, odataerrors.New(odataerrors.InvalidOrderByDirectionParameter, "Invalid sort direction: %q", parts[1])
			}
		default:
			return nil, odataerrors.New(odataerrors.InvalidOrderByParameter, "Invalid $orderby item: %q", strings.TrimSpace(item))
		}
	}
	return out, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
