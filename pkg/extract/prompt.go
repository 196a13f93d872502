package extract

import "strings"

const promptIntroduction = `You are a smartphone assistant to help users summarize and explore page functionalities by interacting with mobile apps.

Given the HTML-formatted current UI state of a page, your job is to:
1. Summarize the core functions of the current page.
2. Determine whether the page contains sub-functions worth exploring.
3. If sub-functions exist, identify which UI elements in the current UI state are most likely to navigate to these sub-functions.`

const promptContract = `Your answer should always use the following format:
{
  "Summary": "...<concise overview of the mobile app page's core functions>",
  "SubFunctions": {
    "Exist": "Yes/No",
    "Description": "...<brief explanation of noteworthy sub-functions if any>",
    "NavigationElements": ["...<UI element id>"]
  }
}

**Note that:**
1. Only include <button> elements in "NavigationElements"
2. Exclude elements from "NavigationElements" if ANY of these is true:
   - contains >=3 line breaks (count ALL: <br>, <br/>)
   - has long numeric strings with >=6 digits (e.g. "1902993047638044672")
   - is part of the MAIN FUNCTIONAL FLOW (e.g. 'Search', 'Submit')
   - contains descriptive text or state indicators
3. If no sub-functions exist ("Exist": "No"), "NavigationElements" should be an empty array []
4. All ids in "NavigationElements" must exactly match the id attributes in the provided Current UI state
5. Please do not output any content other than the JSON format.`

// Prompt builds the instruction sent to the oracle for a rendered listing.
func Prompt(rendered string) string {
	var sb strings.Builder
	sb.Grow(len(promptIntroduction) + len(rendered) + len(promptContract) + 32)
	sb.WriteString(promptIntroduction)
	sb.WriteString("\n\nCurrent UI state:\n")
	sb.WriteString(rendered)
	sb.WriteString("\n\n")
	sb.WriteString(promptContract)
	sb.WriteByte('\n')
	return sb.String()
}
