package statuslog

import (
	"fmt"
	"strings"
)

// insertColumns lists the columns written on append, in argument order.
const insertColumns = `access_id, team_no, outline_id,
	skill_id, exercise_no, theme_id, scenario_id, format_id,
	step_no, current_state, next_state,
	ci_id, action_id, outcome_id, action_type_id, time_min, cost, risk,
	actor_token, actor_name, include_in_poll, created_at`

const insertColumnCount = 22

// selectColumns lists the columns read back into a StatusRow.
const selectColumns = "id, " + insertColumns

// placeholders returns a comma separated placeholder list. With dollar set,
// postgres numbered placeholders starting at $start are produced.
func placeholders(n, start int, dollar bool) string {
	parts := make([]string, n)
	for i := range parts {
		if dollar {
			parts[i] = fmt.Sprintf("$%d", start+i)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
