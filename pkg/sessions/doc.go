/*
Package sessions manages test sessions and the schedule that places tests inside them.

A session groups tests for a cohort. Each scheduled test carries an optional
[start_date, end_date] window, a weight and a multiplier. The window decides when
students may submit answers for that test.

Routes, all under /v1:

	GET    /sessions              read:list:sessions
	POST   /sessions/create       create:sessions
	GET    /sessions/detail/{id}  read:detail:sessions
	PUT    /sessions/update/{id}  update:sessions
	DELETE /sessions/delete/{id}  delete:sessions

Session detail lists scheduled tests ordered by start_date with a question_count
per test. Updating with a "tests" array replaces the whole schedule.
*/
package sessions
