package tgbot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
)

const (
	helpText = `Привет!

Это бот CTF. Он показывает задания (/tasks), правила (/rules) и твой счёт (/score).
Ты всегда можешь написать оргам (/contact) и что-то спросить.

Ответом на каждое задание является флаг: ключевое слово, набор букв и цифр или чего-то ещё.
Например, флаг может выглядеть так: CTF{Th1s_1s_fl4g}
Просто отправь флаг сообщением.

Задания могут появляться по ходу игры, бот будет присылать анонсы.`

	rulesText = `Правила!

1. Не укради флаг у ближнего своего, ищи сам!
2. Не подавай флага ближнему своему, пусть ищет сам!
3. Не взламывай бота, он тут не для этого!
4. Каждое задание приносит указанное в нём число баллов.
5. Кто наберёт больше всех баллов, тот и выиграл. При равенстве выше тот, кто набрал их раньше.
6. Флаг может быть где угодно! У организаторов богатая фантазия!`

	contactText = `Напиши своё сообщение. Или несколько.
Всё, что ты напишешь, будет отправлено организаторам как есть. Допускается только текст.
Когда закончишь, поставь точку (.) отдельным сообщением. Передумал? /cancel`

	messageText = `Напиши сообщение. Всё, что ты напишешь, получат все участники, кто заходил в бота.
Когда закончишь, поставь точку (.) отдельным сообщением. Передумал? /cancel`

	createTaskText = `Отправь задание одним сообщением:
1. Название
2. Флаги через запятую
3. Баллы и ключевые слова hidden, draft (строку можно пропустить)
4. Описание, сколько угодно строк`

	retryFormText   = "Исправь и отправь задание ещё раз или нажми /cancel"
	unknownText     = "Неизвестная команда, попробуй начать с /help"
	notAFlagText    = "Такого флага нет. Если это была команда, попробуй /help"
	deniedText      = "Доступ запрещён."
	alreadySolved   = "Это задание уже решено!"
	taskGoneText    = "Это задание было удалено."
	allSolvedText   = "Ты уже всё решил! Подожди немного, может быть появятся новые задания..."
	noTasksText     = "Заданий пока нет."
	emptyBoardText  = "Пока никто ничего не решил."
	chooseText      = "Выбери задание:"
	messageSentText = "Сообщение отправлено организаторам."
	emptyDraftText  = "Сообщение пустое, ничего не отправлено."
	cancelledText   = "Отменено."
	resetText       = "Сброс состояния. Нажми /help"
	notFoundText    = "Задание не найдено."
	unavailableText = "Сервис временно недоступен, попробуй чуть позже."
	exportOffText   = "Выгрузка не настроена: нужны BASE_PUBLIC_URL и EXPORT_SECRET."
)

// points renders n with the Russian plural of "балл".
func points(n int) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	word := "баллов"
	switch {
	case abs%100 >= 11 && abs%100 <= 14:
	case abs%10 == 1:
		word = "балл"
	case abs%10 >= 2 && abs%10 <= 4:
		word = "балла"
	}
	return fmt.Sprintf("%d %s", n, word)
}

func formatScore(v models.ScoreView) string {
	if !v.Ranked {
		return fmt.Sprintf("Ты в тестовой группе со счётом %s!", points(v.Total))
	}
	return fmt.Sprintf("Ты на %d месте со счётом %s!", v.Rank, points(v.Total))
}

func formatTaskUser(t models.TaskSummary) string {
	return fmt.Sprintf("<b>%s</b> (%s)\n<i>%s</i>\n<tg-spoiler>/contact_%s - сообщить о проблеме</tg-spoiler>\n---",
		html.EscapeString(t.Name), points(t.Points), html.EscapeString(t.Description), t.ID)
}

func formatTaskAdmin(text string) string {
	return "Текущие поля задания:\n<code>" + html.EscapeString(text) + "</code>"
}

func formatBoardLine(s models.Standing, name string) string {
	return fmt.Sprintf("%d. %s - %s", s.Position, html.EscapeString(name), points(s.Total))
}

func formatSolved(res models.SubmitResult) string {
	return fmt.Sprintf("Задание <b>%s</b> успешно решено! +%s", html.EscapeString(res.TaskName), points(res.Points))
}

func formatCreated(id string) string {
	return fmt.Sprintf("Задание <b>%s</b> было создано", id)
}
func formatModified(id string) string {
	return fmt.Sprintf("Задание <b>%s</b> было изменено", id)
}
func formatDeleted(name string) string {
	return fmt.Sprintf("Задание <b>%s</b> было удалено", html.EscapeString(name))
}

func formatBroadcast(text string) string {
	return "<b>Сообщение от организаторов</b>:\n" + html.EscapeString(text)
}

func formatBroadcastDone(n int) string {
	return fmt.Sprintf("Рассылка поставлена в очередь: %d получателей.", n)
}

func formatError(err error) string {
	return "Возникла ошибка: " + html.EscapeString(err.Error())
}

func formatNotStarted(start time.Time) string {
	if start.IsZero() {
		return "Игра ещё не началась! Посмотри пока /rules и /help"
	}
	return fmt.Sprintf("Игра начнётся %s! Посмотри пока /rules и /help", start.Format("02.01 15:04 MST"))
}

const endedText = "Игра закончилась. Спасибо за участие!"

// formatEvent is the operator chat rendering of a notifier event.
func formatEvent(e notify.Event, user string) string {
	user = html.EscapeString(user)
	task := html.EscapeString(e.TaskName)
	switch e.Kind {
	case notify.Solved:
		return fmt.Sprintf("Пользователь %s решил задачу %s (+%s)", user, task, points(e.Points))
	case notify.HiddenSolved:
		return fmt.Sprintf("Пользователь %s решил скрытую задачу %s (+%s)", user, task, points(e.Points))
	default:
		var b strings.Builder
		b.WriteString("<b>Сообщение от ")
		b.WriteString(user)
		if e.TaskName != "" {
			b.WriteString(" по поводу задания <i>")
			b.WriteString(task)
			b.WriteString("</i>")
		}
		b.WriteString("</b>:\n\n")
		b.WriteString(html.EscapeString(e.Text))
		return b.String()
	}
}
