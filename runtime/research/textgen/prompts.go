package textgen

import (
	"fmt"
	"strings"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

const planSystem = `You are a research planner. Break the topic into focused web search queries that together cover its key aspects.
Answer with a single JSON object: {"queries": ["..."], "aspects": ["..."], "reasoning": "..."}.`

const assessSystem = `You are a research critic. Judge whether the gathered sources are enough to write a comprehensive, accurate report on the topic.
Score each dimension from 0 to 10 and list the missing coverage as short gap descriptions.
Answer with a single JSON object: {"overall_score": 0, "completeness": 0, "source_diversity": 0, "fact_consistency": 0, "gaps": ["..."]}.`

const writeSystem = `You are a research writer. Write a well structured markdown report on the topic using only the numbered sources provided.
Include an executive summary, thematic sections and a conclusion. Refer to sources by their number, e.g. [3].`

func planPrompt(topic string, feedback []string, maxQueries int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Produce at most %d search queries.\n", maxQueries)
	if len(feedback) > 0 {
		b.WriteString("\nThe previous search left these gaps; target them specifically:\n")
		for _, f := range feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func assessPrompt(topic string, sources []run.Source, chars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nSources (%d):\n", topic, len(sources))
	writeSources(&b, sources, chars)
	return b.String()
}

func writePrompt(topic string, sources []run.Source, q run.QualityReport, chars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Assessed quality: overall %.1f, completeness %.1f, diversity %.1f, consistency %.1f\n\n",
		q.Overall, q.Completeness, q.SourceDiversity, q.FactConsistency)
	b.WriteString("Sources:\n")
	writeSources(&b, sources, chars)
	return b.String()
}

func writeSources(b *strings.Builder, sources []run.Source, chars int) {
	for i, s := range sources {
		content := []rune(s.Content)
		if chars > 0 && len(content) > chars {
			content = content[:chars]
		}
		fmt.Fprintf(b, "[%d] %s\nURL: %s\nProvider: %s\n%s\n\n", i+1, s.Title, s.URL, s.Provider, string(content))
	}
}
