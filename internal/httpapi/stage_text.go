package httpapi

import (
	"net/http"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"golang.org/x/text/language"
)

var stageLanguages = []language.Tag{language.English, language.Russian}

var stageMatcher = language.NewMatcher(stageLanguages)

var stageTexts = map[language.Tag]map[jobs.Stage]string{
	language.English: {
		jobs.StageQueued:      "Waiting in queue",
		jobs.StageStarting:    "Starting",
		jobs.StageDownloading: "Downloading video",
		jobs.StageDownloaded:  "Video downloaded",
		jobs.StageSegmenting:  "Planning parts",
		jobs.StageTranscoding: "Converting parts",
		jobs.StageFinalizing:  "Finalizing",
		jobs.StageRetrying:    "Something went wrong, retrying",
		jobs.StageDone:        "Done",
		jobs.StageFailed:      "Failed",
	},
	language.Russian: {
		jobs.StageQueued:      "В очереди",
		jobs.StageStarting:    "Запуск",
		jobs.StageDownloading: "Скачиваю видео",
		jobs.StageDownloaded:  "Видео скачано",
		jobs.StageSegmenting:  "Разбиваю на части",
		jobs.StageTranscoding: "Конвертирую части",
		jobs.StageFinalizing:  "Завершаю",
		jobs.StageRetrying:    "Ошибка, пробую снова",
		jobs.StageDone:        "Готово",
		jobs.StageFailed:      "Ошибка",
	},
}

// requestLanguage picks the stage text language from ?lang= or Accept-Language.
func requestLanguage(r *http.Request) language.Tag {
	var prefs []language.Tag
	if raw := r.URL.Query().Get("lang"); raw != "" {
		if tag, err := language.Parse(raw); err == nil {
			prefs = append(prefs, tag)
		}
	}
	if accepted, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil {
		prefs = append(prefs, accepted...)
	}
	_, idx, _ := stageMatcher.Match(prefs...)
	return stageLanguages[idx]
}

func stageText(stage jobs.Stage, lang language.Tag) string {
	texts, ok := stageTexts[lang]
	if !ok {
		texts = stageTexts[language.English]
	}
	if text, ok := texts[stage]; ok {
		return text
	}
	return string(stage)
}
