// Package seed bootstraps permissions, roles and the first administrator from a
// YAML document.
//
//	permissions: []            # empty means every built-in permission
//	roles:
//	  - name: Admin
//	    permissions: ["*"]
//	  - name: Student
//	    permissions: [read:list:sessions, read:detail:sessions, read:list:tests, read:detail:tests]
//	admin:
//	  fullname: Administrator
//	  email: admin@example.com
//	  password: change-me
//
// Apply runs in a single transaction and can be repeated safely.
package seed
