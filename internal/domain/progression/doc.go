// Package progression содержит доменную модель прогрессии StudyDeck.
//
// Это ядро бизнес-логики сервиса наград: здесь нет внешних зависимостей,
// только стандартная библиотека Go. Пакет определяет:
//
//   - Чистые функции кривой уровней: XPRequiredForLevel, TotalXPForLevel,
//     LevelFromXP, ProgressInLevel
//   - Сущности: ExperienceEvent (append-only запись в журнале),
//     State (текущее состояние прогрессии), Streak (серия активных дней)
//   - Снимки: Snapshot (клиентское зеркало для оптимистичного отображения),
//     GamificationState (вход для предикатов достижений)
//   - Интерфейс Ledger - контракт долговременного хранилища
//
// # Архитектурные принципы
//
//  1. Журнал событий - единственный источник истины: totalXP всегда равен
//     max(0, сумме событий субъекта)
//  2. Кривая уровней изолирована в чистых функциях и может быть заменена
//     без изменения остального движка
//  3. Dependency Inversion - интерфейс Ledger реализуется в infrastructure
//
// # Кривая уровней
//
// Стоимость шага нелинейна: XPRequiredForLevel(L) = round(50 * L^1.8),
// поэтому закрытой формулы для LevelFromXP нет - уровень ищется проходом
// вверх по монотонной кривой.
package progression
